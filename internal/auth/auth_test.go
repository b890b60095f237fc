package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/auth"
	"github.com/finsentry/finsentry/internal/bank"
	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/fraud"
	"github.com/finsentry/finsentry/internal/storage"
	"github.com/finsentry/finsentry/internal/storage/memstore"
)

type noopScorer struct{}

func (noopScorer) Evaluate(context.Context, domain.Transaction) (fraud.Verdict, error) {
	return fraud.Verdict{}, nil
}

func newAuth(t *testing.T) (*auth.Service, *auth.TokenManager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	tokens := auth.NewTokenManager(config.AuthConfig{
		JWTSecret: "test-secret",
		JWTIssuer: "finsentry-test",
		JWTTTL:    time.Hour,
	})
	return auth.NewService(store, bank.NewService(store, noopScorer{}), tokens), tokens, store
}

func TestSignupOpensStarterAccount(t *testing.T) {
	svc, _, store := newAuth(t)

	user, err := svc.Signup(context.Background(), "Alice", "Alice@Example.com", "sup3rsecret", domain.RoleFraudAnalyst)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email not normalized: %s", user.Email)
	}
	if user.PasswordHash == "" || user.PasswordHash == "sup3rsecret" {
		t.Error("password stored without hashing")
	}

	accounts, err := storage.Collect(store.AccountsByUser(context.Background(), user.ID))
	if err != nil {
		t.Fatalf("AccountsByUser: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("starter accounts = %d, want 1", len(accounts))
	}
	if !accounts[0].Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("starter balance = %s, want 1000", accounts[0].Balance)
	}
	if accounts[0].Status != domain.AccountActive {
		t.Errorf("starter status = %s, want ACTIVE", accounts[0].Status)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _, _ := newAuth(t)

	cases := []struct {
		name     string
		userName string
		email    string
		password string
		role     domain.Role
	}{
		{"missing name", "", "a@example.com", "longenough", domain.RoleFraudAnalyst},
		{"missing email", "A", "", "longenough", domain.RoleFraudAnalyst},
		{"short password", "A", "a@example.com", "short", domain.RoleFraudAnalyst},
		{"unknown role", "A", "a@example.com", "longenough", domain.Role("INTERN")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Signup(context.Background(), tc.userName, tc.email, tc.password, tc.role); err == nil {
				t.Fatal("Signup accepted invalid input")
			}
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _, _ := newAuth(t)
	if _, err := svc.Signup(context.Background(), "A", "dup@example.com", "longenough", domain.RoleFraudAnalyst); err != nil {
		t.Fatalf("first Signup: %v", err)
	}
	_, err := svc.Signup(context.Background(), "B", "DUP@example.com", "longenough", domain.RoleFinancialManager)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate Signup = %v, want ErrConflict", err)
	}
}

func TestLogin(t *testing.T) {
	svc, tokens, _ := newAuth(t)
	created, err := svc.Signup(context.Background(), "A", "login@example.com", "longenough", domain.RoleComplianceOfficer)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	user, token, err := svc.Login(context.Background(), "login@example.com", "longenough")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("logged in as %s, want %s", user.ID, created.ID)
	}

	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != created.ID || claims.Role != domain.RoleComplianceOfficer {
		t.Errorf("claims = %+v", claims)
	}

	for name, attempt := range map[string][2]string{
		"wrong password": {"login@example.com", "wrongwrong"},
		"unknown email":  {"nobody@example.com", "longenough"},
	} {
		if _, _, err := svc.Login(context.Background(), attempt[0], attempt[1]); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Errorf("%s: Login = %v, want ErrInvalidCredentials", name, err)
		}
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	tokens := auth.NewTokenManager(config.AuthConfig{JWTSecret: "secret-a", JWTIssuer: "finsentry", JWTTTL: time.Hour})
	other := auth.NewTokenManager(config.AuthConfig{JWTSecret: "secret-b", JWTIssuer: "finsentry", JWTTTL: time.Hour})

	user := domain.User{ID: domain.NewID(), Role: domain.RoleFraudAnalyst}
	token, err := tokens.Generate(user)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := other.Parse(token); err == nil {
		t.Error("token signed with another secret was accepted")
	}
	if _, err := tokens.Parse(token + "x"); err == nil {
		t.Error("mangled token was accepted")
	}
}

func TestTokenExpiry(t *testing.T) {
	tokens := auth.NewTokenManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "finsentry", JWTTTL: -time.Minute})
	token, err := tokens.Generate(domain.User{ID: domain.NewID(), Role: domain.RoleFraudAnalyst})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := tokens.Parse(token); err == nil {
		t.Error("expired token was accepted")
	}
}
