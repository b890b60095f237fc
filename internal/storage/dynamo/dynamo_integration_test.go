package dynamo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/storetest"
)

// TestConformance runs the shared adapter suite against a local DynamoDB
// instance. It is skipped unless DYNAMODB_TEST_ENDPOINT points at one, e.g.
//
//	DYNAMODB_TEST_ENDPOINT=http://localhost:8000 go test ./internal/storage/dynamo/
func TestConformance(t *testing.T) {
	endpoint := os.Getenv("DYNAMODB_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMODB_TEST_ENDPOINT not set; skipping DynamoDB integration test")
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	storetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t, endpoint)
	})
}

func newTestStore(t *testing.T, endpoint string) *Store {
	t.Helper()
	ctx := context.Background()

	suffix := domain.NewID()[:8]
	tables := Tables{
		Users:         "test-users-" + suffix,
		Accounts:      "test-accounts-" + suffix,
		Transactions:  "test-transactions-" + suffix,
		Notifications: "test-notifications-" + suffix,
	}

	s, err := Open(ctx, "us-east-1", endpoint, tables)
	if err != nil {
		t.Fatalf("open dynamo store: %v", err)
	}

	createTestTables(t, s.client, tables)
	t.Cleanup(func() {
		for _, table := range []string{tables.Users, tables.Accounts, tables.Transactions, tables.Notifications} {
			s.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)})
		}
	})
	return s
}

func createTestTables(t *testing.T, client *dynamodb.Client, tables Tables) {
	t.Helper()
	ctx := context.Background()

	stringAttr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}
	numberAttr := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeN}
	}
	hashKey := func(name string) []types.KeySchemaElement {
		return []types.KeySchemaElement{{AttributeName: aws.String(name), KeyType: types.KeyTypeHash}}
	}
	hashRangeKey := func(hash, sort string) []types.KeySchemaElement {
		return []types.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(sort), KeyType: types.KeyTypeRange},
		}
	}
	gsi := func(name string, keys []types.KeySchemaElement) types.GlobalSecondaryIndex {
		return types.GlobalSecondaryIndex{
			IndexName:  aws.String(name),
			KeySchema:  keys,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}
	}

	inputs := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(tables.Users),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{stringAttr("user_id"), stringAttr("email")},
			KeySchema:            hashKey("user_id"),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(emailIndex, hashKey("email")),
			},
		},
		{
			TableName:            aws.String(tables.Accounts),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{stringAttr("account_id"), stringAttr("user_id"), numberAttr("created_at")},
			KeySchema:            hashKey("account_id"),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(userAccountsIndex, hashRangeKey("user_id", "created_at")),
			},
		},
		{
			TableName:   aws.String(tables.Transactions),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				stringAttr("transaction_id"), stringAttr("account_id"), stringAttr("target_account_id"), numberAttr("ts"),
			},
			KeySchema: hashKey("transaction_id"),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(accountTransactionsIdx, hashRangeKey("account_id", "ts")),
				gsi(targetTransactionsIdx, hashRangeKey("target_account_id", "ts")),
			},
		},
		{
			TableName:            aws.String(tables.Notifications),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{stringAttr("notification_id"), stringAttr("user_id"), numberAttr("created_at")},
			KeySchema:            hashKey("notification_id"),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(userNotificationsIndex, hashRangeKey("user_id", "created_at")),
			},
		},
	}

	for _, input := range inputs {
		if _, err := client.CreateTable(ctx, input); err != nil {
			t.Fatalf("create table %s: %v", *input.TableName, err)
		}
	}
	waiter := dynamodb.NewTableExistsWaiter(client)
	for _, input := range inputs {
		err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, 30*time.Second)
		if err != nil {
			t.Fatalf("wait for table %s: %v", *input.TableName, err)
		}
	}
}
