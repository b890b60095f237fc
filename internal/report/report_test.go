package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/report"
	"github.com/finsentry/finsentry/internal/storage/memstore"
)

func fraudCfg() config.FraudConfig {
	return config.FraudConfig{
		HighValueThreshold: decimal.NewFromInt(10000),
		VelocityCount:      5,
		VelocityWindow:     time.Hour,
		RoundTripWindow:    10 * time.Minute,
		DeviationMultiple:  decimal.NewFromInt(5),
		HistoryLimit:       200,
	}
}

type world struct {
	store *memstore.Store
	svc   *report.Service
	user  domain.User
}

func newWorld(t *testing.T) *world {
	t.Helper()
	store := memstore.New()
	user := domain.User{
		ID: domain.NewID(), Name: "u", Email: "u@example.com",
		Role: domain.RoleComplianceOfficer, CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &world{store: store, svc: report.NewService(store, fraudCfg()), user: user}
}

func (w *world) account(t *testing.T, status domain.AccountStatus) domain.Account {
	t.Helper()
	account := domain.Account{
		ID: domain.NewID(), UserID: w.user.ID,
		Balance: decimal.NewFromInt(1_000_000), Status: domain.AccountActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if status != domain.AccountActive {
		if err := w.store.UpdateAccount(context.Background(), account.ID, func(a *domain.Account) error {
			a.Status = status
			return nil
		}); err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
	return account
}

func (w *world) txn(t *testing.T, accountID string, amount int64, flagged bool) domain.Transaction {
	t.Helper()
	txn := domain.Transaction{
		ID:        domain.NewID(),
		AccountID: accountID,
		Type:      domain.TypeDeposit,
		Amount:    decimal.NewFromInt(amount),
		Timestamp: time.Now().UTC(),
		Status:    domain.StatusCompleted,
	}
	if err := w.store.ApplyTransaction(context.Background(), txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if flagged {
		if err := w.store.UpdateTransaction(context.Background(), txn.ID, func(x *domain.Transaction) error {
			x.FraudFlag = true
			return nil
		}); err != nil {
			t.Fatalf("flag transaction: %v", err)
		}
	}
	return txn
}

func TestFraudDashboard(t *testing.T) {
	w := newWorld(t)
	active := w.account(t, domain.AccountActive)
	w.txn(t, active.ID, 100, false)
	w.txn(t, active.ID, 20000, true)
	w.txn(t, active.ID, 15000, false)
	w.account(t, domain.AccountFrozen)

	stats, err := w.svc.FraudDashboard(context.Background())
	if err != nil {
		t.Fatalf("FraudDashboard: %v", err)
	}
	if stats.TotalFlagged != 1 {
		t.Errorf("TotalFlagged = %d, want 1", stats.TotalFlagged)
	}
	if stats.HighValueTransactions != 2 {
		t.Errorf("HighValueTransactions = %d, want 2", stats.HighValueTransactions)
	}
	if stats.FrozenAccounts != 1 {
		t.Errorf("FrozenAccounts = %d, want 1", stats.FrozenAccounts)
	}
}

func TestAccountRiskScore(t *testing.T) {
	t.Run("no history is zero risk", func(t *testing.T) {
		w := newWorld(t)
		account := w.account(t, domain.AccountActive)
		got, err := w.svc.AccountRiskScore(context.Background(), account.ID)
		if err != nil {
			t.Fatalf("AccountRiskScore: %v", err)
		}
		if got.Score != 0 || got.Level != "low" {
			t.Errorf("score = %d/%s, want 0/low", got.Score, got.Level)
		}
	})

	t.Run("flagged and frozen is critical", func(t *testing.T) {
		w := newWorld(t)
		account := w.account(t, domain.AccountActive)
		for i := 0; i < 3; i++ {
			w.txn(t, account.ID, 100, true)
		}
		if err := w.store.UpdateAccount(context.Background(), account.ID, func(a *domain.Account) error {
			a.Status = domain.AccountFrozen
			return nil
		}); err != nil {
			t.Fatalf("freeze: %v", err)
		}

		got, err := w.svc.AccountRiskScore(context.Background(), account.ID)
		if err != nil {
			t.Fatalf("AccountRiskScore: %v", err)
		}
		// Three flags cap the flag factor at 40; frozen adds 50.
		if got.Score != 90 {
			t.Errorf("score = %d, want 90", got.Score)
		}
		if got.Level != "critical" {
			t.Errorf("level = %s, want critical", got.Level)
		}
		if got.FlaggedCount != 3 {
			t.Errorf("flagged count = %d, want 3", got.FlaggedCount)
		}
		if len(got.Factors) != 2 {
			t.Errorf("factors = %v, want flagged + frozen", got.Factors)
		}
	})
}

func TestComplianceDashboard(t *testing.T) {
	w := newWorld(t)
	active := w.account(t, domain.AccountActive)
	w.account(t, domain.AccountFrozen) // 50% frozen: trips the 10% threshold
	w.txn(t, active.ID, 20000, true)   // large + suspicious: trips the 5% threshold
	w.txn(t, active.ID, 50, false)

	dashboard, err := w.svc.Compliance(context.Background())
	if err != nil {
		t.Fatalf("Compliance: %v", err)
	}

	m := dashboard.Metrics
	if m.LargeTransactions != 1 || m.SuspiciousActivities != 1 || m.TotalTransactions != 2 {
		t.Errorf("metrics = %+v", m)
	}
	if m.VerificationRate != 50 {
		t.Errorf("verification rate = %v, want 50", m.VerificationRate)
	}

	// All three thresholds are crossed.
	if dashboard.AlertCount != 3 {
		t.Fatalf("alert count = %d, want 3: %+v", dashboard.AlertCount, dashboard.Alerts)
	}
	if dashboard.CriticalAlerts != 1 {
		t.Errorf("critical alerts = %d, want 1", dashboard.CriticalAlerts)
	}
	// 100 - 20 (critical) - 10 (high) - 5 (warning) - 45 (verification shortfall) = 20.
	if dashboard.Score != 20 {
		t.Errorf("compliance score = %d, want 20", dashboard.Score)
	}
}

func TestComplianceEmptyStore(t *testing.T) {
	w := newWorld(t)
	dashboard, err := w.svc.Compliance(context.Background())
	if err != nil {
		t.Fatalf("Compliance: %v", err)
	}
	if dashboard.AlertCount != 0 {
		t.Errorf("alerts on empty store: %+v", dashboard.Alerts)
	}
	if dashboard.Score != 100 {
		t.Errorf("score = %d, want 100", dashboard.Score)
	}
}

func TestFinancialSummary(t *testing.T) {
	w := newWorld(t)
	a := w.account(t, domain.AccountActive)
	b := w.account(t, domain.AccountActive)

	seed := func(accountID string, txnType domain.TransactionType, amount int64, target string) {
		txn := domain.Transaction{
			ID: domain.NewID(), AccountID: accountID, TargetAccountID: target,
			Type: txnType, Amount: decimal.NewFromInt(amount),
			Timestamp: time.Now().UTC(), Status: domain.StatusCompleted,
		}
		if err := w.store.ApplyTransaction(context.Background(), txn); err != nil {
			t.Fatalf("seed %s: %v", txnType, err)
		}
	}
	seed(a.ID, domain.TypeDeposit, 500, "")
	seed(a.ID, domain.TypeWithdrawal, 200, "")
	seed(a.ID, domain.TypeTransfer, 300, b.ID)

	sum, err := w.svc.Financial(context.Background())
	if err != nil {
		t.Fatalf("Financial: %v", err)
	}
	if sum.TotalTransactions != 3 {
		t.Errorf("TotalTransactions = %d, want 3", sum.TotalTransactions)
	}
	if !sum.TotalVolume.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("TotalVolume = %s, want 1000", sum.TotalVolume)
	}
	if !sum.NetFlow.Equal(decimal.NewFromInt(300)) {
		t.Errorf("NetFlow = %s, want 300", sum.NetFlow)
	}
	if sum.ActiveAccounts != 2 || sum.TotalUsers != 1 {
		t.Errorf("accounts/users = %d/%d", sum.ActiveAccounts, sum.TotalUsers)
	}
}

func TestTopTransactions(t *testing.T) {
	w := newWorld(t)
	account := w.account(t, domain.AccountActive)
	w.txn(t, account.ID, 100, false)
	w.txn(t, account.ID, 900, false)
	w.txn(t, account.ID, 500, false)

	top, err := w.svc.TopTransactions(context.Background(), 2, "")
	if err != nil {
		t.Fatalf("TopTransactions: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if !top[0].Amount.Equal(decimal.NewFromInt(900)) || !top[1].Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("top amounts = %s, %s", top[0].Amount, top[1].Amount)
	}

	withdrawals, err := w.svc.TopTransactions(context.Background(), 0, domain.TypeWithdrawal)
	if err != nil {
		t.Fatalf("TopTransactions(withdrawal): %v", err)
	}
	if len(withdrawals) != 0 {
		t.Errorf("withdrawal filter returned %d rows", len(withdrawals))
	}
}
