package dynamo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// GetTransaction fetches a transaction with a strongly consistent read.
func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	rec, err := s.getTransactionRecord(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return rec.toDomain()
}

func (s *Store) getTransactionRecord(ctx context.Context, id string) (transactionRecord, error) {
	var out *dynamodb.GetItemOutput
	err := s.do(ctx, func() error {
		var gerr error
		out, gerr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tables.Transactions),
			Key:            key("transaction_id", id),
			ConsistentRead: aws.Bool(true),
		})
		return gerr
	})
	if err != nil {
		return transactionRecord{}, fmt.Errorf("get transaction: %w", err)
	}
	if out.Item == nil {
		return transactionRecord{}, domain.ErrNotFound
	}
	var rec transactionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return transactionRecord{}, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return rec, nil
}

// TransactionsByAccount streams transactions where the account is the source
// or the transfer target, merged from the two GSIs and ordered by timestamp.
// GSI reads are eventually consistent: a query issued immediately after a
// write may not include the new record yet.
func (s *Store) TransactionsByAccount(ctx context.Context, accountID string, order storage.Order, limit int) iter.Seq2[domain.Transaction, error] {
	forward := order == storage.Ascending

	sourceInput := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Transactions),
		IndexName:                 aws.String(accountTransactionsIdx),
		KeyConditionExpression:    aws.String("account_id = :v"),
		ExpressionAttributeValues: stringEq(accountID),
		ScanIndexForward:          aws.Bool(forward),
	}
	targetInput := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Transactions),
		IndexName:                 aws.String(targetTransactionsIdx),
		KeyConditionExpression:    aws.String("target_account_id = :v"),
		ExpressionAttributeValues: stringEq(accountID),
		ScanIndexForward:          aws.Bool(forward),
	}
	if limit > 0 {
		sourceInput.Limit = aws.Int32(int32(limit))
		targetInput.Limit = aws.Int32(int32(limit))
	}

	return func(yield func(domain.Transaction, error) bool) {
		asSource, err := storage.Collect(querySeq(ctx, s, sourceInput, transactionRecord.toDomain))
		if err != nil {
			yield(domain.Transaction{}, err)
			return
		}
		asTarget, err := storage.Collect(querySeq(ctx, s, targetInput, transactionRecord.toDomain))
		if err != nil {
			yield(domain.Transaction{}, err)
			return
		}

		merged := append(asSource, asTarget...)
		sort.Slice(merged, func(i, j int) bool {
			if order == storage.Descending {
				return merged[i].Timestamp.After(merged[j].Timestamp)
			}
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		})
		if limit > 0 && len(merged) > limit {
			merged = merged[:limit]
		}
		for _, txn := range merged {
			if !yield(txn, nil) {
				return
			}
		}
	}
}

// ListTransactions scans the transactions table, buffers, and yields newest
// first. DynamoDB scans carry no order, so the sort happens client-side and
// the limit caps the sorted result.
func (s *Store) ListTransactions(ctx context.Context, limit int) iter.Seq2[domain.Transaction, error] {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.tables.Transactions),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	return func(yield func(domain.Transaction, error) bool) {
		all, err := storage.Collect(scanSeq(ctx, s, input, transactionRecord.toDomain))
		if err != nil {
			yield(domain.Transaction{}, err)
			return
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		for _, txn := range all {
			if !yield(txn, nil) {
				return
			}
		}
	}
}

// UpdateTransaction performs an optimistic version-conditioned write.
func (s *Store) UpdateTransaction(ctx context.Context, id string, mutate func(*domain.Transaction) error) error {
	for attempt := 0; attempt < updateRetries; attempt++ {
		rec, err := s.getTransactionRecord(ctx, id)
		if err != nil {
			return err
		}
		txn, err := rec.toDomain()
		if err != nil {
			return err
		}
		if err := mutate(&txn); err != nil {
			return err
		}

		item, err := attributevalue.MarshalMap(toTransactionRecord(txn, rec.Version+1))
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
		err = s.do(ctx, func() error {
			_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tables.Transactions),
				Item:                item,
				ConditionExpression: aws.String("version = :v"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":v": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.Version)},
				},
			})
			return perr
		})
		if conditionFailed(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update transaction: %w", domain.ErrConflict)
}

// ApplyTransaction persists the transaction and its balance effects in a
// single TransactWriteItems call. Preconditions (account exists, is ACTIVE,
// has funds) are checked with consistent reads first so the caller gets a
// precise error; the transact conditions re-assert them, so a concurrent
// mutation between check and write cancels the whole transaction and maps to
// domain.ErrConflict, leaving no partial state.
func (s *Store) ApplyTransaction(ctx context.Context, txn domain.Transaction) error {
	source, err := s.GetAccount(ctx, txn.AccountID)
	if err != nil {
		return err
	}
	if !source.Active() {
		return domain.ErrAccountNotActive
	}
	debit := txn.Type == domain.TypeWithdrawal || txn.Type == domain.TypeTransfer
	if debit && source.Balance.LessThan(txn.Amount) {
		return domain.ErrInsufficientFunds
	}
	if txn.Type == domain.TypeTransfer {
		target, err := s.GetAccount(ctx, txn.TargetAccountID)
		if err != nil {
			return err
		}
		if !target.Active() {
			return domain.ErrAccountNotActive
		}
	}

	item, err := attributevalue.MarshalMap(toTransactionRecord(txn, 1))
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	amount := &types.AttributeValueMemberN{Value: txn.Amount.String()}
	active := &types.AttributeValueMemberS{Value: string(domain.AccountActive)}

	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           aws.String(s.tables.Transactions),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(transaction_id)"),
			},
		},
	}

	sourceUpdate := types.Update{
		TableName:           aws.String(s.tables.Accounts),
		Key:                 key("account_id", txn.AccountID),
		UpdateExpression:    aws.String("SET balance = balance + :amt, version = version + :one"),
		ConditionExpression: aws.String("#st = :active"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amt":    amount,
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":active": active,
		},
	}
	if debit {
		sourceUpdate.UpdateExpression = aws.String("SET balance = balance - :amt, version = version + :one")
		sourceUpdate.ConditionExpression = aws.String("#st = :active AND balance >= :amt")
	}
	items = append(items, types.TransactWriteItem{Update: &sourceUpdate})

	if txn.Type == domain.TypeTransfer {
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:           aws.String(s.tables.Accounts),
			Key:                 key("account_id", txn.TargetAccountID),
			UpdateExpression:    aws.String("SET balance = balance + :amt, version = version + :one"),
			ConditionExpression: aws.String("#st = :active"),
			ExpressionAttributeNames: map[string]string{
				"#st": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amt":    amount,
				":one":    &types.AttributeValueMemberN{Value: "1"},
				":active": active,
			},
		}})
	}

	err = s.do(ctx, func() error {
		_, terr := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		return terr
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("apply transaction: %w", domain.ErrConflict)
		}
		return fmt.Errorf("apply transaction: %w", err)
	}
	return nil
}
