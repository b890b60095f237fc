package dynamo

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/finsentry/finsentry/internal/domain"
)

// CreateAccount inserts the account with version 1.
func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	item, err := attributevalue.MarshalMap(toAccountRecord(account, 1))
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	err = s.do(ctx, func() error {
		_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tables.Accounts),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(account_id)"),
		})
		return perr
	})
	if conditionFailed(err) {
		return fmt.Errorf("create account: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount fetches an account with a strongly consistent read.
func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	rec, err := s.getAccountRecord(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	return rec.toDomain()
}

func (s *Store) getAccountRecord(ctx context.Context, id string) (accountRecord, error) {
	var out *dynamodb.GetItemOutput
	err := s.do(ctx, func() error {
		var gerr error
		out, gerr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tables.Accounts),
			Key:            key("account_id", id),
			ConsistentRead: aws.Bool(true),
		})
		return gerr
	})
	if err != nil {
		return accountRecord{}, fmt.Errorf("get account: %w", err)
	}
	if out.Item == nil {
		return accountRecord{}, domain.ErrNotFound
	}
	var rec accountRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return accountRecord{}, fmt.Errorf("unmarshal account: %w", err)
	}
	return rec, nil
}

// AccountsByUser streams the user's accounts through the user GSI.
// Index reads are eventually consistent.
func (s *Store) AccountsByUser(ctx context.Context, userID string) iter.Seq2[domain.Account, error] {
	return querySeq(ctx, s, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Accounts),
		IndexName:                 aws.String(userAccountsIndex),
		KeyConditionExpression:    aws.String("user_id = :v"),
		ExpressionAttributeValues: stringEq(userID),
	}, accountRecord.toDomain)
}

// ListAccounts scans the accounts table. Scan order is arbitrary; callers
// aggregating for reports do not depend on it.
func (s *Store) ListAccounts(ctx context.Context) iter.Seq2[domain.Account, error] {
	return scanSeq(ctx, s, &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Accounts),
	}, accountRecord.toDomain)
}

// UpdateAccount performs an optimistic read-modify-write conditioned on the
// record version, retrying a lost race up to the bounded budget.
func (s *Store) UpdateAccount(ctx context.Context, id string, mutate func(*domain.Account) error) error {
	for attempt := 0; attempt < updateRetries; attempt++ {
		rec, err := s.getAccountRecord(ctx, id)
		if err != nil {
			return err
		}
		account, err := rec.toDomain()
		if err != nil {
			return err
		}
		if err := mutate(&account); err != nil {
			return err
		}

		item, err := attributevalue.MarshalMap(toAccountRecord(account, rec.Version+1))
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		err = s.do(ctx, func() error {
			_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tables.Accounts),
				Item:                item,
				ConditionExpression: aws.String("version = :v"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":v": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Version)},
				},
			})
			return perr
		})
		if conditionFailed(err) {
			continue // lost the race, re-read and retry
		}
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update account: %w", domain.ErrConflict)
}
