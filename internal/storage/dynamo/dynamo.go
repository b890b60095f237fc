// Package dynamo implements the record store contract on AWS DynamoDB.
//
// Primary-key operations (Get/Put/Delete) use the table's partition key and
// are strongly consistent. Index queries go through global secondary indexes
// and may observe a brief propagation delay after a write; the contract
// documents this and the conformance tests assert it as allowed behavior.
//
// Update* is an optimistic read-modify-write: each record carries a version
// attribute, the write is conditioned on it, and a lost race is retried a
// bounded number of times before surfacing domain.ErrConflict.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Index names, matching the provisioning scripts.
const (
	emailIndex             = "email-index"
	userAccountsIndex      = "user-accounts-index"
	accountTransactionsIdx = "account-transactions-index"
	targetTransactionsIdx  = "target-transactions-index"
	userNotificationsIndex = "user-notifications-index"
)

// updateRetries bounds the optimistic-write retry budget for Update*.
const updateRetries = 3

// Tables names the four DynamoDB tables backing the store.
type Tables struct {
	Users         string
	Accounts      string
	Transactions  string
	Notifications string
}

// Store provides DynamoDB-backed persistence for all four entity kinds.
type Store struct {
	client *dynamodb.Client
	tables Tables
}

// New wraps an existing DynamoDB client. Used by tests that point at a local
// DynamoDB instance.
func New(client *dynamodb.Client, tables Tables) *Store {
	return &Store{client: client, tables: tables}
}

// Open builds a client from the ambient AWS configuration. endpoint overrides
// the resolved URL when non-empty (local DynamoDB instances).
func Open(ctx context.Context, region, endpoint string, tables Tables) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, tables), nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *Store) Close() error { return nil }

// do runs op, retrying transient DynamoDB failures with exponential backoff
// before wrapping the final error as domain.ErrTransient. Non-transient
// failures return immediately.
func (s *Store) do(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	err := backoff.Retry(func() error {
		if err := op(); err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if err != nil && transient(err) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

func transient(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var internal *types.InternalServerError
	var limit *types.RequestLimitExceeded
	return errors.As(err, &throughput) || errors.As(err, &internal) || errors.As(err, &limit)
}

func conditionFailed(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}

func key(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}
