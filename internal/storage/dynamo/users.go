package dynamo

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/finsentry/finsentry/internal/domain"
)

// CreateUser inserts the user with a conditional write on the partition key.
// Email uniqueness is pre-checked through the email GSI; the index is
// eventually consistent, so a racing duplicate signup can slip past the check
// and is tolerated the same way the original system tolerated it.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if _, err := s.GetUserByEmail(ctx, user.Email); err == nil {
		return fmt.Errorf("create user: %w", domain.ErrConflict)
	}

	item, err := attributevalue.MarshalMap(toUserRecord(user))
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	err = s.do(ctx, func() error {
		_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tables.Users),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(user_id)"),
		})
		return perr
	})
	if conditionFailed(err) {
		return fmt.Errorf("create user: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser fetches a user by identifier with a strongly consistent read.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var out *dynamodb.GetItemOutput
	err := s.do(ctx, func() error {
		var gerr error
		out, gerr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tables.Users),
			Key:            key("user_id", id),
			ConsistentRead: aws.Bool(true),
		})
		return gerr
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if out.Item == nil {
		return domain.User{}, domain.ErrNotFound
	}
	var rec userRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return rec.toDomain(), nil
}

// GetUserByEmail looks the user up through the email GSI.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var out *dynamodb.QueryOutput
	err := s.do(ctx, func() error {
		var qerr error
		out, qerr = s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tables.Users),
			IndexName:                 aws.String(emailIndex),
			KeyConditionExpression:    aws.String("email = :v"),
			ExpressionAttributeValues: stringEq(email),
			Limit:                     aws.Int32(1),
		})
		return qerr
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.User{}, domain.ErrNotFound
	}
	var rec userRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return rec.toDomain(), nil
}

// ListUsers streams every user via a table scan.
func (s *Store) ListUsers(ctx context.Context) iter.Seq2[domain.User, error] {
	return scanSeq(ctx, s, &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Users),
	}, func(r userRecord) (domain.User, error) { return r.toDomain(), nil })
}
