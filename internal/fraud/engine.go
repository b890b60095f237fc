// Package fraud scores completed transactions against a fixed rule pipeline
// and flags the suspicious ones.
//
// Evaluation is deterministic: rules compare against the transaction's own
// timestamp and the account's persisted history, never the wall clock, so the
// same transaction and history always yield the same verdict. Scoring fails
// open — if history cannot be read, the transaction stays unflagged and the
// money movement that already committed is not disturbed.
package fraud

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/finsentry/finsentry/internal/alert"
	"github.com/finsentry/finsentry/internal/config"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/storage"
)

// Engine evaluates transactions after they commit.
type Engine struct {
	store      storage.Store
	dispatcher alert.Dispatcher
	cfg        config.FraudConfig
}

// NewEngine wires the engine to the record store and alert dispatcher.
func NewEngine(store storage.Store, dispatcher alert.Dispatcher, cfg config.FraudConfig) *Engine {
	return &Engine{store: store, dispatcher: dispatcher, cfg: cfg}
}

// Evaluate runs the full rule pipeline over the committed transaction. When
// any rule fires the transaction is flagged in place and an alert goes to the
// account owner and every fraud analyst. A history read failure logs and
// returns an unflagged verdict rather than an error: the transfer has already
// settled, and scoring must never undo or block it.
func (e *Engine) Evaluate(ctx context.Context, txn domain.Transaction) (Verdict, error) {
	history, err := e.history(ctx, txn)
	if err != nil {
		log.Printf("fraud: history unavailable for account %s, skipping evaluation of %s: %v", txn.AccountID, txn.ID, err)
		return Verdict{}, nil
	}

	var verdict Verdict
	for _, rule := range Pipeline {
		if reason, fired := rule.Evaluate(txn, history, e.cfg); fired {
			verdict.Flagged = true
			verdict.Reasons = append(verdict.Reasons, reason)
		}
	}
	if !verdict.Flagged {
		return verdict, nil
	}

	if err := e.store.UpdateTransaction(ctx, txn.ID, func(t *domain.Transaction) error {
		t.FraudFlag = true
		return nil
	}); err != nil {
		return verdict, fmt.Errorf("flag transaction %s: %w", txn.ID, err)
	}
	log.Printf("fraud: flagged transaction %s on account %s (%s)", txn.ID, txn.AccountID, ruleNames(verdict.Reasons))

	e.alert(ctx, txn, verdict)
	return verdict, nil
}

// history loads the account's recent COMPLETED transactions, excluding the
// one under evaluation.
func (e *Engine) history(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error) {
	all, err := storage.Collect(e.store.TransactionsByAccount(ctx, txn.AccountID, storage.Descending, e.cfg.HistoryLimit))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.ID == txn.ID || t.Status == domain.StatusRejected {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (e *Engine) alert(ctx context.Context, txn domain.Transaction, verdict Verdict) {
	recipients := make([]string, 0, 1)
	account, err := e.store.GetAccount(ctx, txn.AccountID)
	if err != nil {
		log.Printf("fraud: resolving owner of account %s: %v", txn.AccountID, err)
	} else {
		recipients = append(recipients, account.UserID)
	}

	e.dispatcher.Notify(ctx, alert.Alert{
		Category:   domain.CategoryFraud,
		Recipients: recipients,
		Role:       domain.RoleFraudAnalyst,
		Title:      "Suspicious transaction flagged",
		Message: fmt.Sprintf("Transaction %s on account %s (%s %s) was flagged: %s",
			txn.ID, txn.AccountID, txn.Type, txn.Amount, ruleNames(verdict.Reasons)),
	})
}

func ruleNames(reasons []Reason) string {
	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = r.Rule
	}
	return strings.Join(names, ", ")
}
