package dynamo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/domain"
)

// Storage records mirror the domain entities with DynamoDB-friendly shapes:
// money as number attributes (DynamoDB numbers are exact decimals), times as
// unix seconds, and a version attribute for optimistic concurrency.

type userRecord struct {
	UserID       string `dynamodbav:"user_id"`
	Name         string `dynamodbav:"name"`
	Email        string `dynamodbav:"email"`
	PasswordHash string `dynamodbav:"password_hash"`
	Role         string `dynamodbav:"role"`
	CreatedAt    int64  `dynamodbav:"created_at"`
}

type accountRecord struct {
	AccountID string `dynamodbav:"account_id"`
	UserID    string `dynamodbav:"user_id"`
	Balance   string `dynamodbav:"balance,number"`
	Status    string `dynamodbav:"status"`
	CreatedAt int64  `dynamodbav:"created_at"`
	Version   int64  `dynamodbav:"version"`
}

type transactionRecord struct {
	TransactionID   string `dynamodbav:"transaction_id"`
	AccountID       string `dynamodbav:"account_id"`
	TargetAccountID string `dynamodbav:"target_account_id,omitempty"`
	Type            string `dynamodbav:"transaction_type"`
	Amount          string `dynamodbav:"amount,number"`
	Timestamp       int64  `dynamodbav:"ts"`
	Status          string `dynamodbav:"status"`
	FraudFlag       bool   `dynamodbav:"fraud_flag"`
	Description     string `dynamodbav:"description,omitempty"`
	Version         int64  `dynamodbav:"version"`
}

type notificationRecord struct {
	NotificationID string `dynamodbav:"notification_id"`
	UserID         string `dynamodbav:"user_id"`
	Title          string `dynamodbav:"title"`
	Message        string `dynamodbav:"message"`
	Category       string `dynamodbav:"category"`
	CreatedAt      int64  `dynamodbav:"created_at"`
	Read           bool   `dynamodbav:"read"`
	Version        int64  `dynamodbav:"version"`
}

func toUserRecord(u domain.User) userRecord {
	return userRecord{
		UserID:       u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt.Unix(),
	}
}

func (r userRecord) toDomain() domain.User {
	return domain.User{
		ID:           r.UserID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         domain.Role(r.Role),
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func toAccountRecord(a domain.Account, version int64) accountRecord {
	return accountRecord{
		AccountID: a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance.String(),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.Unix(),
		Version:   version,
	}
}

func (r accountRecord) toDomain() (domain.Account, error) {
	balance, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("corrupt balance attribute %q: %w", r.Balance, err)
	}
	return domain.Account{
		ID:        r.AccountID,
		UserID:    r.UserID,
		Balance:   balance,
		Status:    domain.AccountStatus(r.Status),
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}, nil
}

func toTransactionRecord(t domain.Transaction, version int64) transactionRecord {
	return transactionRecord{
		TransactionID:   t.ID,
		AccountID:       t.AccountID,
		TargetAccountID: t.TargetAccountID,
		Type:            string(t.Type),
		Amount:          t.Amount.String(),
		Timestamp:       t.Timestamp.Unix(),
		Status:          string(t.Status),
		FraudFlag:       t.FraudFlag,
		Description:     t.Description,
		Version:         version,
	}
}

func (r transactionRecord) toDomain() (domain.Transaction, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt amount attribute %q: %w", r.Amount, err)
	}
	return domain.Transaction{
		ID:              r.TransactionID,
		AccountID:       r.AccountID,
		TargetAccountID: r.TargetAccountID,
		Type:            domain.TransactionType(r.Type),
		Amount:          amount,
		Timestamp:       time.Unix(r.Timestamp, 0).UTC(),
		Status:          domain.TransactionStatus(r.Status),
		FraudFlag:       r.FraudFlag,
		Description:     r.Description,
	}, nil
}

func toNotificationRecord(n domain.Notification, version int64) notificationRecord {
	return notificationRecord{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Title:          n.Title,
		Message:        n.Message,
		Category:       string(n.Category),
		CreatedAt:      n.CreatedAt.Unix(),
		Read:           n.Read,
		Version:        version,
	}
}

func (r notificationRecord) toDomain() domain.Notification {
	return domain.Notification{
		ID:        r.NotificationID,
		UserID:    r.UserID,
		Title:     r.Title,
		Message:   r.Message,
		Category:  domain.NotificationCategory(r.Category),
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
		Read:      r.Read,
	}
}
