package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role identifies what a user is allowed to see and do.
type Role string

const (
	RoleFraudAnalyst      Role = "FRAUD_ANALYST"
	RoleFinancialManager  Role = "FINANCIAL_MANAGER"
	RoleComplianceOfficer Role = "COMPLIANCE_OFFICER"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleFraudAnalyst, RoleFinancialManager, RoleComplianceOfficer:
		return true
	}
	return false
}

// AccountStatus represents the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
)

// TransactionType categorizes a transaction.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
)

// TransactionStatus is the terminal state of a transaction. A transaction is
// created directly in its terminal state; only the fraud flag changes afterward.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusRejected  TransactionStatus = "REJECTED"
)

// NotificationCategory classifies a notification for dashboard filtering.
type NotificationCategory string

const (
	CategoryFraud      NotificationCategory = "FRAUD"
	CategoryCompliance NotificationCategory = "COMPLIANCE"
	CategorySystem     NotificationCategory = "SYSTEM"
)

// User is an authenticated identity. Immutable after signup except the
// password hash; never deleted in normal operation.
type User struct {
	ID           string    `json:"id" dynamodbav:"user_id"`
	Name         string    `json:"name" dynamodbav:"name"`
	Email        string    `json:"email" dynamodbav:"email"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	Role         Role      `json:"role" dynamodbav:"role"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
}

// Account holds a user's balance. Balance is mutated only by applying a
// transaction; status is mutated by fraud/compliance actions.
type Account struct {
	ID        string          `json:"id" dynamodbav:"account_id"`
	UserID    string          `json:"user_id" dynamodbav:"user_id"`
	Balance   decimal.Decimal `json:"balance" dynamodbav:"balance"`
	Status    AccountStatus   `json:"status" dynamodbav:"status"`
	CreatedAt time.Time       `json:"created_at" dynamodbav:"created_at,unixtime"`
}

// Active reports whether the account may participate in transactions.
func (a *Account) Active() bool {
	return a.Status == AccountActive
}

// Transaction is a single banking operation. Immutable after creation except
// the fraud flag. Ordering by Timestamp is significant for history-based rules.
type Transaction struct {
	ID              string            `json:"id" dynamodbav:"transaction_id"`
	AccountID       string            `json:"account_id" dynamodbav:"account_id"`
	TargetAccountID string            `json:"target_account_id,omitempty" dynamodbav:"target_account_id,omitempty"`
	Type            TransactionType   `json:"type" dynamodbav:"transaction_type"`
	Amount          decimal.Decimal   `json:"amount" dynamodbav:"amount"`
	Timestamp       time.Time         `json:"timestamp" dynamodbav:"ts,unixtime"`
	Status          TransactionStatus `json:"status" dynamodbav:"status"`
	FraudFlag       bool              `json:"fraud_flag" dynamodbav:"fraud_flag"`
	Description     string            `json:"description,omitempty" dynamodbav:"description,omitempty"`
}

// Notification is a message delivered to a user's dashboard inbox.
// Mutated only by read-flag toggling.
type Notification struct {
	ID        string               `json:"id" dynamodbav:"notification_id"`
	UserID    string               `json:"user_id" dynamodbav:"user_id"`
	Title     string               `json:"title" dynamodbav:"title"`
	Message   string               `json:"message" dynamodbav:"message"`
	Category  NotificationCategory `json:"category" dynamodbav:"category"`
	CreatedAt time.Time            `json:"created_at" dynamodbav:"created_at,unixtime"`
	Read      bool                 `json:"read" dynamodbav:"read"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}
