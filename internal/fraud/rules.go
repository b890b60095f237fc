package fraud

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
)

// Reason explains why a rule fired.
type Reason struct {
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

// Verdict is the engine's output for one transaction.
type Verdict struct {
	Flagged bool     `json:"flagged"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Rule is one independent heuristic over a transaction and its account
// history. Evaluate returns the reason and true when the rule fires.
// History contains only COMPLETED transactions strictly older than the
// evaluated one, newest first; rules reference the transaction's
// own timestamp rather than the wall clock, so identical inputs always
// produce identical verdicts.
type Rule struct {
	Name     string
	Evaluate func(txn domain.Transaction, history []domain.Transaction, cfg config.FraudConfig) (Reason, bool)
}

// Pipeline is the fixed, ordered rule set. Every rule runs on every
// evaluation; matching reasons accumulate rather than short-circuiting, so a
// verdict always carries its full explanation.
var Pipeline = []Rule{
	{Name: "high-value", Evaluate: highValue},
	{Name: "velocity", Evaluate: velocity},
	{Name: "round-trip", Evaluate: roundTrip},
	{Name: "pattern-deviation", Evaluate: patternDeviation},
}

// highValue fires when the amount strictly exceeds the configured threshold.
// An amount equal to the threshold does not fire.
func highValue(txn domain.Transaction, _ []domain.Transaction, cfg config.FraudConfig) (Reason, bool) {
	if txn.Amount.GreaterThan(cfg.HighValueThreshold) {
		return Reason{
			Rule:   "high-value",
			Detail: fmt.Sprintf("amount %s exceeds threshold %s", txn.Amount, cfg.HighValueThreshold),
		}, true
	}
	return Reason{}, false
}

// velocity fires when the account's transaction count inside the trailing
// window, including the evaluated transaction, strictly exceeds the
// configured count. Exactly the configured count does not fire.
func velocity(txn domain.Transaction, history []domain.Transaction, cfg config.FraudConfig) (Reason, bool) {
	windowStart := txn.Timestamp.Add(-cfg.VelocityWindow)
	count := 1 // the evaluated transaction itself
	for _, t := range history {
		if t.AccountID == txn.AccountID && !t.Timestamp.Before(windowStart) {
			count++
		}
	}
	if count > cfg.VelocityCount {
		return Reason{
			Rule:   "velocity",
			Detail: fmt.Sprintf("%d transactions within %s exceeds limit of %d", count, cfg.VelocityWindow, cfg.VelocityCount),
		}, true
	}
	return Reason{}, false
}

// roundTrip fires on a transfer whose destination already sent money back to
// the source inside the round-trip window.
func roundTrip(txn domain.Transaction, history []domain.Transaction, cfg config.FraudConfig) (Reason, bool) {
	if txn.Type != domain.TypeTransfer || txn.TargetAccountID == "" {
		return Reason{}, false
	}
	windowStart := txn.Timestamp.Add(-cfg.RoundTripWindow)
	for _, t := range history {
		if t.Type != domain.TypeTransfer {
			continue
		}
		if t.AccountID == txn.TargetAccountID && t.TargetAccountID == txn.AccountID && !t.Timestamp.Before(windowStart) {
			return Reason{
				Rule:   "round-trip",
				Detail: fmt.Sprintf("transfer reverses %s from %s within %s", t.ID, t.AccountID, cfg.RoundTripWindow),
			}, true
		}
	}
	return Reason{}, false
}

// patternDeviation fires when the amount strictly exceeds the configured
// multiple of the account's trailing average. Empty history never fires.
func patternDeviation(txn domain.Transaction, history []domain.Transaction, cfg config.FraudConfig) (Reason, bool) {
	var sum decimal.Decimal
	n := 0
	for _, t := range history {
		if t.AccountID == txn.AccountID {
			sum = sum.Add(t.Amount)
			n++
		}
	}
	if n == 0 {
		return Reason{}, false
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	ceiling := mean.Mul(cfg.DeviationMultiple)
	if txn.Amount.GreaterThan(ceiling) {
		return Reason{
			Rule:   "pattern-deviation",
			Detail: fmt.Sprintf("amount %s exceeds %s x trailing average %s", txn.Amount, cfg.DeviationMultiple, mean),
		}, true
	}
	return Reason{}, false
}
