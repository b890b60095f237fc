package dynamo

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// querySeq streams query results page by page, unmarshalling each item into R
// and converting it with conv. The sequence is lazy and non-restartable; a
// page fetch failure ends it with the error.
func querySeq[R, T any](ctx context.Context, s *Store, input *dynamodb.QueryInput, conv func(R) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		remaining := -1
		if input.Limit != nil {
			remaining = int(*input.Limit)
		}
		for {
			var out *dynamodb.QueryOutput
			err := s.do(ctx, func() error {
				var qerr error
				out, qerr = s.client.Query(ctx, input)
				return qerr
			})
			if err != nil {
				yield(zero, fmt.Errorf("query %s: %w", *input.TableName, err))
				return
			}
			for _, item := range out.Items {
				var rec R
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					yield(zero, fmt.Errorf("unmarshal item: %w", err))
					return
				}
				v, err := conv(rec)
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(v, nil) {
					return
				}
				if remaining > 0 {
					remaining--
					if remaining == 0 {
						return
					}
				}
			}
			if out.LastEvaluatedKey == nil {
				return
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

// scanSeq streams a full-table scan the same way.
func scanSeq[R, T any](ctx context.Context, s *Store, input *dynamodb.ScanInput, conv func(R) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for {
			var out *dynamodb.ScanOutput
			err := s.do(ctx, func() error {
				var serr error
				out, serr = s.client.Scan(ctx, input)
				return serr
			})
			if err != nil {
				yield(zero, fmt.Errorf("scan %s: %w", *input.TableName, err))
				return
			}
			for _, item := range out.Items {
				var rec R
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					yield(zero, fmt.Errorf("unmarshal item: %w", err))
					return
				}
				v, err := conv(rec)
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(v, nil) {
					return
				}
			}
			if out.LastEvaluatedKey == nil {
				return
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
}

func stringEq(value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberS{Value: value},
	}
}
