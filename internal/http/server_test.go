package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/alert"
	"github.com/finsentry/finsentry/internal/auth"
	"github.com/finsentry/finsentry/internal/bank"
	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/fraud"
	httpapi "github.com/finsentry/finsentry/internal/http"
	"github.com/finsentry/finsentry/internal/report"
	"github.com/finsentry/finsentry/internal/storage/memstore"
)

func testFraudConfig() config.FraudConfig {
	return config.FraudConfig{
		HighValueThreshold: decimal.NewFromInt(10000),
		VelocityCount:      5,
		VelocityWindow:     time.Hour,
		RoundTripWindow:    10 * time.Minute,
		DeviationMultiple:  decimal.NewFromInt(5),
		HistoryLimit:       200,
	}
}

type api struct {
	handler    http.Handler
	store      *memstore.Store
	dispatcher *alert.AsyncDispatcher
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memstore.New()
	dispatcher := alert.NewDispatcher(&alert.StoreSink{Store: store}, store, 8)
	t.Cleanup(dispatcher.Close)

	engine := fraud.NewEngine(store, dispatcher, testFraudConfig())
	bankSvc := bank.NewService(store, engine)
	reportSvc := report.NewService(store, testFraudConfig())
	notifications := alert.NewNotificationService(store)
	tokens := auth.NewTokenManager(config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "finsentry", JWTTTL: time.Hour})
	authSvc := auth.NewService(store, bankSvc, tokens)

	server := httpapi.NewServer(authSvc, tokens, bankSvc, reportSvc, notifications)
	return &api{handler: server.Routes(), store: store, dispatcher: dispatcher}
}

func (a *api) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// signup registers a user and returns their token and first account.
func (a *api) signup(t *testing.T, email string, role domain.Role) (string, domain.Account) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Test", "email": email, "password": "longenough", "role": string(role),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup = %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	login := decode[struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}](t, rec)

	rec = a.do(t, http.MethodGet, "/api/accounts", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list accounts = %d: %s", rec.Code, rec.Body.String())
	}
	accounts := decode[[]domain.Account](t, rec)
	if len(accounts) != 1 {
		t.Fatalf("accounts = %d, want starter account", len(accounts))
	}
	return login.Token, accounts[0]
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t)
	token, account := a.signup(t, "flow@example.com", domain.RoleFinancialManager)

	if !account.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("starter balance = %s, want 1000", account.Balance)
	}

	rec := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "flow@example.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", rec.Code)
	}

	if rec := a.do(t, http.MethodGet, "/api/accounts", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/accounts", token+"junk", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", rec.Code)
	}
}

func TestTransactionEndpoints(t *testing.T) {
	a := newAPI(t)
	token, account := a.signup(t, "txn@example.com", domain.RoleFinancialManager)

	rec := a.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "DEPOSIT", "account_id": account.ID, "amount": "500", "description": "bonus",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit = %d: %s", rec.Code, rec.Body.String())
	}
	txn := decode[domain.Transaction](t, rec)
	if !txn.Amount.Equal(decimal.NewFromInt(500)) || txn.Status != domain.StatusCompleted {
		t.Errorf("txn = %+v", txn)
	}

	rec = a.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "WITHDRAWAL", "account_id": account.ID, "amount": "999999",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraft = %d, want 422: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%s/transactions", account.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d: %s", rec.Code, rec.Body.String())
	}
	history := decode[[]domain.Transaction](t, rec)
	if len(history) != 1 || history[0].ID != txn.ID {
		t.Errorf("history = %+v", history)
	}

	// A high-value deposit comes back flagged.
	rec = a.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "DEPOSIT", "account_id": account.ID, "amount": "50000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("large deposit = %d: %s", rec.Code, rec.Body.String())
	}
	if flagged := decode[domain.Transaction](t, rec); !flagged.FraudFlag {
		t.Error("high-value deposit not flagged in response")
	}

	// Another user cannot move money on this account.
	otherToken, _ := a.signup(t, "other@example.com", domain.RoleFinancialManager)
	rec = a.do(t, http.MethodPost, "/api/transactions", otherToken, map[string]any{
		"type": "DEPOSIT", "account_id": account.ID, "amount": "10",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign deposit = %d, want 403", rec.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	a := newAPI(t)
	token, account := a.signup(t, "csv@example.com", domain.RoleFinancialManager)
	a.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "DEPOSIT", "account_id": account.ID, "amount": "42",
	})

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%s/transactions/export", account.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %s, want text/csv", ct)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("DEPOSIT")) {
		t.Errorf("export body missing rows: %s", rec.Body.String())
	}
}

func TestDashboardRoleGates(t *testing.T) {
	a := newAPI(t)
	analyst, _ := a.signup(t, "analyst@example.com", domain.RoleFraudAnalyst)
	manager, _ := a.signup(t, "manager@example.com", domain.RoleFinancialManager)
	officer, _ := a.signup(t, "officer@example.com", domain.RoleComplianceOfficer)

	cases := []struct {
		path    string
		allowed string
		denied  string
	}{
		{"/api/dashboard/fraud", analyst, manager},
		{"/api/dashboard/financial", manager, analyst},
		{"/api/dashboard/compliance", officer, manager},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if rec := a.do(t, http.MethodGet, tc.path, tc.allowed, nil); rec.Code != http.StatusOK {
				t.Errorf("allowed role got %d: %s", rec.Code, rec.Body.String())
			}
			if rec := a.do(t, http.MethodGet, tc.path, tc.denied, nil); rec.Code != http.StatusForbidden {
				t.Errorf("denied role got %d, want 403", rec.Code)
			}
		})
	}
}

func TestFreezeEndpoint(t *testing.T) {
	a := newAPI(t)
	_, account := a.signup(t, "frozen@example.com", domain.RoleFinancialManager)
	officer, _ := a.signup(t, "officer2@example.com", domain.RoleComplianceOfficer)

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%s/freeze", account.ID), officer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("freeze = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.Account](t, rec); got.Status != domain.AccountFrozen {
		t.Errorf("status = %s, want FROZEN", got.Status)
	}

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/accounts/%s/unfreeze", account.ID), officer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unfreeze = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.Account](t, rec); got.Status != domain.AccountActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	a := newAPI(t)
	token, account := a.signup(t, "inbox@example.com", domain.RoleFraudAnalyst)

	// Trip the fraud engine; the flag alert lands in the owner's inbox.
	rec := a.do(t, http.MethodPost, "/api/transactions", token, map[string]any{
		"type": "DEPOSIT", "account_id": account.ID, "amount": "99999",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit = %d: %s", rec.Code, rec.Body.String())
	}
	a.dispatcher.Close() // drain the async queue before reading the inbox

	rec = a.do(t, http.MethodGet, "/api/notifications", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list notifications = %d: %s", rec.Code, rec.Body.String())
	}
	inbox := decode[[]domain.Notification](t, rec)
	if len(inbox) != 1 {
		t.Fatalf("inbox = %d notifications, want 1", len(inbox))
	}
	if inbox[0].Category != domain.CategoryFraud || inbox[0].Read {
		t.Errorf("notification = %+v", inbox[0])
	}

	rec = a.do(t, http.MethodGet, "/api/notifications/unread-count", token, nil)
	if count := decode[map[string]int](t, rec); count["unread"] != 1 {
		t.Errorf("unread = %d, want 1", count["unread"])
	}

	rec = a.do(t, http.MethodPost, "/api/notifications/"+inbox[0].ID+"/read", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read = %d: %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, http.MethodGet, "/api/notifications/unread-count", token, nil)
	if count := decode[map[string]int](t, rec); count["unread"] != 0 {
		t.Errorf("unread after read = %d, want 0", count["unread"])
	}

	rec = a.do(t, http.MethodDelete, "/api/notifications/"+inbox[0].ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}
}
