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

// CreateNotification inserts the notification with version 1.
func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	item, err := attributevalue.MarshalMap(toNotificationRecord(n, 1))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = s.do(ctx, func() error {
		_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tables.Notifications),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(notification_id)"),
		})
		return perr
	})
	if conditionFailed(err) {
		return fmt.Errorf("create notification: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetNotification fetches a notification with a strongly consistent read.
func (s *Store) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	rec, err := s.getNotificationRecord(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	return rec.toDomain(), nil
}

func (s *Store) getNotificationRecord(ctx context.Context, id string) (notificationRecord, error) {
	var out *dynamodb.GetItemOutput
	err := s.do(ctx, func() error {
		var gerr error
		out, gerr = s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tables.Notifications),
			Key:            key("notification_id", id),
			ConsistentRead: aws.Bool(true),
		})
		return gerr
	})
	if err != nil {
		return notificationRecord{}, fmt.Errorf("get notification: %w", err)
	}
	if out.Item == nil {
		return notificationRecord{}, domain.ErrNotFound
	}
	var rec notificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return notificationRecord{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	return rec, nil
}

// NotificationsByUser streams the user's notifications through the user GSI,
// newest first. Index reads are eventually consistent.
func (s *Store) NotificationsByUser(ctx context.Context, userID string) iter.Seq2[domain.Notification, error] {
	return querySeq(ctx, s, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tables.Notifications),
		IndexName:                 aws.String(userNotificationsIndex),
		KeyConditionExpression:    aws.String("user_id = :v"),
		ExpressionAttributeValues: stringEq(userID),
		ScanIndexForward:          aws.Bool(false),
	}, func(r notificationRecord) (domain.Notification, error) { return r.toDomain(), nil })
}

// UpdateNotification performs an optimistic version-conditioned write.
func (s *Store) UpdateNotification(ctx context.Context, id string, mutate func(*domain.Notification) error) error {
	for attempt := 0; attempt < updateRetries; attempt++ {
		rec, err := s.getNotificationRecord(ctx, id)
		if err != nil {
			return err
		}
		n := rec.toDomain()
		if err := mutate(&n); err != nil {
			return err
		}

		item, err := attributevalue.MarshalMap(toNotificationRecord(n, rec.Version+1))
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		err = s.do(ctx, func() error {
			_, perr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tables.Notifications),
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
			return fmt.Errorf("update notification: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update notification: %w", domain.ErrConflict)
}

// DeleteNotification removes the item; deleting an absent item succeeds.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	err := s.do(ctx, func() error {
		_, derr := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tables.Notifications),
			Key:       key("notification_id", id),
		})
		return derr
	})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}
