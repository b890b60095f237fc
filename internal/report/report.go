// Package report computes the role-specific dashboard figures: fraud
// statistics, account risk scores, regulatory compliance metrics, and the
// financial KPI summary.
//
// Everything here is read-only aggregation over the record store. Scans are
// bounded so a dashboard request never walks an unbounded table.
package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

const (
	// dashboardScanLimit bounds the transaction scan behind dashboard stats.
	dashboardScanLimit = 1000
	// metricsScanLimit bounds the scan behind compliance and KPI figures.
	metricsScanLimit = 2000
	// riskHistoryLimit is how much account history feeds the risk score.
	riskHistoryLimit = 50
)

// Service computes dashboard statistics.
type Service struct {
	store storage.Store
	cfg   config.FraudConfig
}

// NewService wires the reporting service to the store. The fraud config
// supplies the high-value threshold so reports and rules agree on it.
func NewService(store storage.Store, cfg config.FraudConfig) *Service {
	return &Service{store: store, cfg: cfg}
}

// FraudStats is the fraud-analyst dashboard header.
type FraudStats struct {
	TotalFlagged          int `json:"total_flagged"`
	FrozenAccounts        int `json:"frozen_accounts"`
	HighValueTransactions int `json:"high_value_transactions"`
}

// FraudDashboard aggregates flag, freeze, and high-value counts.
func (s *Service) FraudDashboard(ctx context.Context) (FraudStats, error) {
	var stats FraudStats
	for txn, err := range s.store.ListTransactions(ctx, dashboardScanLimit) {
		if err != nil {
			return FraudStats{}, fmt.Errorf("fraud dashboard: %w", err)
		}
		if txn.FraudFlag {
			stats.TotalFlagged++
		}
		if txn.Amount.GreaterThan(s.cfg.HighValueThreshold) {
			stats.HighValueTransactions++
		}
	}
	for account, err := range s.store.ListAccounts(ctx) {
		if err != nil {
			return FraudStats{}, fmt.Errorf("fraud dashboard: %w", err)
		}
		if account.Status == domain.AccountFrozen {
			stats.FrozenAccounts++
		}
	}
	return stats, nil
}

// SuspiciousTransactions returns flagged transactions, newest first.
func (s *Service) SuspiciousTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for txn, err := range s.store.ListTransactions(ctx, metricsScanLimit) {
		if err != nil {
			return nil, fmt.Errorf("suspicious transactions: %w", err)
		}
		if !txn.FraudFlag {
			continue
		}
		out = append(out, txn)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RiskReport is the risk profile of one account. Score is 0-100, higher is
// riskier; Factors explain every contribution.
type RiskReport struct {
	Score             int      `json:"risk_score"`
	Level             string   `json:"risk_level"`
	Factors           []string `json:"factors"`
	FlaggedCount      int      `json:"flagged_count"`
	TotalTransactions int      `json:"total_transactions"`
}

// AccountRiskScore scores the account from its recent history: flagged
// transactions (up to 40 points), high-value transactions (up to 30), high
// frequency (20), and a frozen status (50), capped at 100.
func (s *Service) AccountRiskScore(ctx context.Context, accountID string) (RiskReport, error) {
	history, err := storage.Collect(s.store.TransactionsByAccount(ctx, accountID, storage.Descending, riskHistoryLimit))
	if err != nil {
		return RiskReport{}, fmt.Errorf("risk score: %w", err)
	}
	if len(history) == 0 {
		return RiskReport{Level: "low", Factors: []string{}}, nil
	}

	report := RiskReport{TotalTransactions: len(history), Factors: []string{}}

	highValue := 0
	for _, txn := range history {
		if txn.FraudFlag {
			report.FlaggedCount++
		}
		if txn.Amount.GreaterThan(s.cfg.HighValueThreshold) {
			highValue++
		}
	}
	if report.FlaggedCount > 0 {
		report.Score += min(report.FlaggedCount*15, 40)
		report.Factors = append(report.Factors, fmt.Sprintf("%d flagged transactions", report.FlaggedCount))
	}
	if highValue > 0 {
		report.Score += min(highValue*10, 30)
		report.Factors = append(report.Factors, fmt.Sprintf("%d large transactions (>%s)", highValue, s.cfg.HighValueThreshold))
	}
	if len(history) > 30 {
		report.Score += 20
		report.Factors = append(report.Factors, fmt.Sprintf("high transaction frequency (%d recent transactions)", len(history)))
	}
	if account, err := s.store.GetAccount(ctx, accountID); err == nil && account.Status == domain.AccountFrozen {
		report.Score += 50
		report.Factors = append(report.Factors, "account is frozen")
	}

	report.Score = min(report.Score, 100)
	switch {
	case report.Score >= 75:
		report.Level = "critical"
	case report.Score >= 50:
		report.Level = "high"
	case report.Score >= 25:
		report.Level = "medium"
	default:
		report.Level = "low"
	}
	return report, nil
}

// ComplianceMetrics are the regulatory figures on the compliance dashboard.
type ComplianceMetrics struct {
	LargeTransactions    int     `json:"large_transactions"`
	SuspiciousActivities int     `json:"suspicious_activities"`
	TotalTransactions    int     `json:"total_transactions"`
	VerificationRate     float64 `json:"verification_rate"`
	VerifiedAccounts     int     `json:"verified_accounts"`
	TotalAccounts        int     `json:"total_accounts"`
	FrozenAccounts       int     `json:"frozen_accounts"`
}

// ComplianceAlert marks a metric that crossed a regulatory threshold.
type ComplianceAlert struct {
	Severity  string  `json:"severity"`
	Category  string  `json:"category"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Metrics computes the compliance figures over a bounded scan.
func (s *Service) Metrics(ctx context.Context) (ComplianceMetrics, error) {
	var m ComplianceMetrics
	for txn, err := range s.store.ListTransactions(ctx, metricsScanLimit) {
		if err != nil {
			return ComplianceMetrics{}, fmt.Errorf("compliance metrics: %w", err)
		}
		m.TotalTransactions++
		if txn.FraudFlag {
			m.SuspiciousActivities++
		}
		if txn.Status == domain.StatusCompleted && txn.Amount.GreaterThan(s.cfg.HighValueThreshold) {
			m.LargeTransactions++
		}
	}
	for account, err := range s.store.ListAccounts(ctx) {
		if err != nil {
			return ComplianceMetrics{}, fmt.Errorf("compliance metrics: %w", err)
		}
		m.TotalAccounts++
		switch account.Status {
		case domain.AccountActive:
			m.VerifiedAccounts++
		case domain.AccountFrozen:
			m.FrozenAccounts++
		}
	}
	if m.TotalAccounts > 0 {
		m.VerificationRate = float64(m.VerifiedAccounts) / float64(m.TotalAccounts) * 100
	}
	return m, nil
}

// ThresholdAlerts derives the alerts for metrics outside regulatory bounds:
// verification rate below 90%, frozen rate above 10%, and suspicious activity
// above 5% of transactions.
func (s *Service) ThresholdAlerts(m ComplianceMetrics) []ComplianceAlert {
	var alerts []ComplianceAlert
	if m.TotalAccounts > 0 && m.VerificationRate < 90 {
		alerts = append(alerts, ComplianceAlert{
			Severity:  "warning",
			Category:  "Account Verification",
			Message:   fmt.Sprintf("account verification rate (%.2f%%) is below 90%% threshold", m.VerificationRate),
			Value:     m.VerificationRate,
			Threshold: 90,
		})
	}
	if m.TotalAccounts > 0 {
		frozenRate := float64(m.FrozenAccounts) / float64(m.TotalAccounts) * 100
		if frozenRate > 10 {
			alerts = append(alerts, ComplianceAlert{
				Severity:  "high",
				Category:  "Frozen Accounts",
				Message:   fmt.Sprintf("frozen account rate (%.1f%%) exceeds 10%% threshold", frozenRate),
				Value:     frozenRate,
				Threshold: 10,
			})
		}
	}
	if m.TotalTransactions > 0 {
		suspiciousRate := float64(m.SuspiciousActivities) / float64(m.TotalTransactions) * 100
		if suspiciousRate > 5 {
			alerts = append(alerts, ComplianceAlert{
				Severity:  "critical",
				Category:  "Suspicious Activity",
				Message:   fmt.Sprintf("suspicious activity rate (%.1f%%) exceeds 5%% threshold", suspiciousRate),
				Value:     suspiciousRate,
				Threshold: 5,
			})
		}
	}
	return alerts
}

// ComplianceDashboard bundles metrics, alerts, and the overall score.
type ComplianceDashboard struct {
	Metrics        ComplianceMetrics `json:"metrics"`
	Alerts         []ComplianceAlert `json:"alerts"`
	AlertCount     int               `json:"alert_count"`
	CriticalAlerts int               `json:"critical_alerts"`
	Score          int               `json:"compliance_score"`
}

// Compliance computes the full compliance-officer dashboard.
func (s *Service) Compliance(ctx context.Context) (ComplianceDashboard, error) {
	metrics, err := s.Metrics(ctx)
	if err != nil {
		return ComplianceDashboard{}, err
	}
	alerts := s.ThresholdAlerts(metrics)

	dashboard := ComplianceDashboard{
		Metrics:    metrics,
		Alerts:     alerts,
		AlertCount: len(alerts),
	}
	for _, a := range alerts {
		if a.Severity == "critical" {
			dashboard.CriticalAlerts++
		}
	}
	dashboard.Score = complianceScore(metrics, alerts)
	return dashboard, nil
}

// complianceScore starts at 100 and deducts per alert severity plus any
// verification shortfall below 95%.
func complianceScore(m ComplianceMetrics, alerts []ComplianceAlert) int {
	score := 100.0
	for _, a := range alerts {
		switch a.Severity {
		case "critical":
			score -= 20
		case "high":
			score -= 10
		case "warning":
			score -= 5
		}
	}
	if m.TotalAccounts > 0 && m.VerificationRate < 95 {
		score -= 95 - m.VerificationRate
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// FinancialSummary is the financial-manager KPI block.
type FinancialSummary struct {
	TotalTransactions int             `json:"total_transactions"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	TotalDeposits     decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals  decimal.Decimal `json:"total_withdrawals"`
	TotalTransfers    decimal.Decimal `json:"total_transfers"`
	NetFlow           decimal.Decimal `json:"net_flow"`
	ActiveAccounts    int             `json:"active_accounts"`
	TotalAccounts     int             `json:"total_accounts"`
	TotalUsers        int             `json:"total_users"`
	AverageBalance    decimal.Decimal `json:"avg_balance"`
}

// Financial computes transaction volumes and account KPIs.
func (s *Service) Financial(ctx context.Context) (FinancialSummary, error) {
	var sum FinancialSummary
	for txn, err := range s.store.ListTransactions(ctx, metricsScanLimit) {
		if err != nil {
			return FinancialSummary{}, fmt.Errorf("financial summary: %w", err)
		}
		sum.TotalTransactions++
		if txn.Status == domain.StatusCompleted {
			sum.TotalVolume = sum.TotalVolume.Add(txn.Amount)
		}
		switch txn.Type {
		case domain.TypeDeposit:
			sum.TotalDeposits = sum.TotalDeposits.Add(txn.Amount)
		case domain.TypeWithdrawal:
			sum.TotalWithdrawals = sum.TotalWithdrawals.Add(txn.Amount)
		case domain.TypeTransfer:
			sum.TotalTransfers = sum.TotalTransfers.Add(txn.Amount)
		}
	}

	var activeBalance decimal.Decimal
	for account, err := range s.store.ListAccounts(ctx) {
		if err != nil {
			return FinancialSummary{}, fmt.Errorf("financial summary: %w", err)
		}
		sum.TotalAccounts++
		if account.Status == domain.AccountActive {
			sum.ActiveAccounts++
			activeBalance = activeBalance.Add(account.Balance)
		}
	}
	for _, err := range s.store.ListUsers(ctx) {
		if err != nil {
			return FinancialSummary{}, fmt.Errorf("financial summary: %w", err)
		}
		sum.TotalUsers++
	}

	sum.NetFlow = sum.TotalDeposits.Sub(sum.TotalWithdrawals)
	if sum.ActiveAccounts > 0 {
		sum.AverageBalance = activeBalance.Div(decimal.NewFromInt(int64(sum.ActiveAccounts))).Round(2)
	}
	return sum, nil
}

// TopTransactions returns the largest transactions by amount, optionally
// filtered by type.
func (s *Service) TopTransactions(ctx context.Context, limit int, txnType domain.TransactionType) ([]domain.Transaction, error) {
	all, err := storage.Collect(s.store.ListTransactions(ctx, metricsScanLimit))
	if err != nil {
		return nil, fmt.Errorf("top transactions: %w", err)
	}
	filtered := all[:0]
	for _, txn := range all {
		if txnType == "" || txn.Type == txnType {
			filtered = append(filtered, txn)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Amount.GreaterThan(filtered[j].Amount)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}
