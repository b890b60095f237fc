// Package auth implements signup and login with bcrypt password hashing and
// JWT session tokens.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// minPasswordLength is the shortest password signup accepts.
const minPasswordLength = 8

// starterBalance seeds every new user's first account.
var starterBalance = decimal.NewFromInt(1000)

// AccountOpener creates the starter account at signup. Satisfied by
// *bank.Service.
type AccountOpener interface {
	CreateAccount(ctx context.Context, userID string, balance decimal.Decimal) (domain.Account, error)
}

// Service handles signup and login.
type Service struct {
	store    storage.Store
	accounts AccountOpener
	tokens   *TokenManager
}

// NewService wires the auth service.
func NewService(store storage.Store, accounts AccountOpener, tokens *TokenManager) *Service {
	return &Service{store: store, accounts: accounts, tokens: tokens}
}

// Signup registers a user and opens their starter account. A duplicate email
// fails with domain.ErrConflict.
func (s *Service) Signup(ctx context.Context, name, email, password string, role domain.Role) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return domain.User{}, fmt.Errorf("name and email are required")
	}
	if len(password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if !domain.ValidRole(role) {
		return domain.User{}, fmt.Errorf("unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           domain.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	// The starter account is a convenience, not part of the signup's atomic
	// unit: a user without an account can open one later.
	if _, err := s.accounts.CreateAccount(ctx, user.ID, starterBalance); err != nil {
		return domain.User{}, fmt.Errorf("open starter account: %w", err)
	}
	return user, nil
}

// Login verifies the credentials and issues a session token. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, "", fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	}
	token, err := s.tokens.Generate(user)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}
