package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/http/respond"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	user, err := s.auth.Signup(r.Context(), req.Name, req.Email, req.Password, domain.Role(req.Role))
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

type createAccountRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	account, err := s.bank.CreateAccount(r.Context(), claims.UserID, req.Balance)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, account)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	accounts, err := s.bank.Accounts(r.Context(), claims.UserID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	respond.JSON(w, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.authorizedAccount(w, r)
	if !ok {
		return
	}
	respond.JSON(w, http.StatusOK, account)
}

// authorizedAccount loads the routed account and enforces that the caller is
// its owner or holds an oversight role. On failure it has already written the
// response.
func (s *Server) authorizedAccount(w http.ResponseWriter, r *http.Request) (domain.Account, bool) {
	claims, _ := claimsFrom(r.Context())
	account, err := s.bank.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		respond.DomainError(w, err)
		return domain.Account{}, false
	}
	if account.UserID != claims.UserID &&
		claims.Role != domain.RoleFraudAnalyst &&
		claims.Role != domain.RoleComplianceOfficer {
		respond.Error(w, http.StatusForbidden, "not your account")
		return domain.Account{}, false
	}
	return account, true
}

type createTransactionRequest struct {
	Type            string          `json:"type"`
	AccountID       string          `json:"account_id"`
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	// Money moves only on the caller's own account.
	account, err := s.bank.GetAccount(r.Context(), req.AccountID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if account.UserID != claims.UserID {
		respond.Error(w, http.StatusForbidden, "not your account")
		return
	}

	var txn domain.Transaction
	switch domain.TransactionType(req.Type) {
	case domain.TypeDeposit:
		txn, err = s.bank.Deposit(r.Context(), req.AccountID, req.Amount, req.Description)
	case domain.TypeWithdrawal:
		txn, err = s.bank.Withdraw(r.Context(), req.AccountID, req.Amount, req.Description)
	case domain.TypeTransfer:
		txn, err = s.bank.Transfer(r.Context(), req.AccountID, req.TargetAccountID, req.Amount, req.Description)
	default:
		respond.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown transaction type %q", req.Type))
		return
	}
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, txn)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	txn, err := s.bank.GetTransaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if claims.Role != domain.RoleFraudAnalyst && claims.Role != domain.RoleComplianceOfficer {
		account, err := s.bank.GetAccount(r.Context(), txn.AccountID)
		if err != nil || account.UserID != claims.UserID {
			respond.Error(w, http.StatusForbidden, "not your transaction")
			return
		}
	}
	respond.JSON(w, http.StatusOK, txn)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := s.authorizedAccount(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 0)
	history, err := s.bank.History(r.Context(), account.ID, limit)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if history == nil {
		history = []domain.Transaction{}
	}
	respond.JSON(w, http.StatusOK, history)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	account, ok := s.authorizedAccount(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transactions-"+account.ID+".csv"))
	if err := s.bank.ExportCSV(r.Context(), account.ID, w); err != nil {
		// Headers are already out; nothing left but to log via DomainError's path.
		respond.DomainError(w, err)
	}
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.setAccountStatus(w, r, domain.AccountFrozen)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	s.setAccountStatus(w, r, domain.AccountActive)
}

func (s *Server) setAccountStatus(w http.ResponseWriter, r *http.Request, status domain.AccountStatus) {
	id := chi.URLParam(r, "accountID")
	if err := s.bank.SetAccountStatus(r.Context(), id, status); err != nil {
		respond.DomainError(w, err)
		return
	}
	account, err := s.bank.GetAccount(r.Context(), id)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, account)
}

func (s *Server) handleFraudDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.FraudDashboard(r.Context())
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

func (s *Server) handleSuspicious(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	txns, err := s.reports.SuspiciousTransactions(r.Context(), limit)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respond.JSON(w, http.StatusOK, txns)
}

func (s *Server) handleRiskScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.reports.AccountRiskScore(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, score)
}

func (s *Server) handleFinancialDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reports.Financial(r.Context())
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, summary)
}

func (s *Server) handleTopTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	txnType := domain.TransactionType(r.URL.Query().Get("type"))
	txns, err := s.reports.TopTransactions(r.Context(), limit, txnType)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	respond.JSON(w, http.StatusOK, txns)
}

func (s *Server) handleComplianceDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.reports.Compliance(r.Context())
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit := queryInt(r, "limit", 0)
	notifications, err := s.notifications.List(r.Context(), claims.UserID, unreadOnly, limit)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	respond.JSON(w, http.StatusOK, notifications)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	count, err := s.notifications.UnreadCount(r.Context(), claims.UserID)
	if err != nil {
		respond.DomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	if err := s.notifications.MarkRead(r.Context(), claims.UserID, chi.URLParam(r, "notificationID")); err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	if err := s.notifications.Delete(r.Context(), claims.UserID, chi.URLParam(r, "notificationID")); err != nil {
		respond.DomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return defaultValue
	}
	return v
}
