// Package http exposes the service over a chi-routed JSON API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finsentry/finsentry/internal/alert"
	"github.com/finsentry/finsentry/internal/auth"
	"github.com/finsentry/finsentry/internal/bank"
	"github.com/finsentry/finsentry/internal/domain"
	"github.com/finsentry/finsentry/internal/report"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	auth          *auth.Service
	tokens        *auth.TokenManager
	bank          *bank.Service
	reports       *report.Service
	notifications *alert.NotificationService
}

// NewServer wires the HTTP server to its services.
func NewServer(authSvc *auth.Service, tokens *auth.TokenManager, bankSvc *bank.Service, reports *report.Service, notifications *alert.NotificationService) *Server {
	return &Server{
		auth:          authSvc,
		tokens:        tokens,
		bank:          bankSvc,
		reports:       reports,
		notifications: notifications,
	}
}

// Routes builds the router. Everything under /api except auth requires a
// bearer token; the dashboards additionally require the matching role.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/accounts", s.handleListAccounts)
			r.Post("/accounts", s.handleCreateAccount)
			r.Get("/accounts/{accountID}", s.handleGetAccount)
			r.Get("/accounts/{accountID}/transactions", s.handleHistory)
			r.Get("/accounts/{accountID}/transactions/export", s.handleExport)

			r.Post("/transactions", s.handleCreateTransaction)
			r.Get("/transactions/{transactionID}", s.handleGetTransaction)

			r.Get("/notifications", s.handleListNotifications)
			r.Get("/notifications/unread-count", s.handleUnreadCount)
			r.Post("/notifications/{notificationID}/read", s.handleMarkRead)
			r.Delete("/notifications/{notificationID}", s.handleDeleteNotification)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleFraudAnalyst))
				r.Get("/dashboard/fraud", s.handleFraudDashboard)
				r.Get("/dashboard/fraud/suspicious", s.handleSuspicious)
				r.Get("/accounts/{accountID}/risk", s.handleRiskScore)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleFinancialManager))
				r.Get("/dashboard/financial", s.handleFinancialDashboard)
				r.Get("/dashboard/financial/top-transactions", s.handleTopTransactions)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleComplianceOfficer, domain.RoleFraudAnalyst))
				r.Post("/accounts/{accountID}/freeze", s.handleFreeze)
				r.Post("/accounts/{accountID}/unfreeze", s.handleUnfreeze)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(domain.RoleComplianceOfficer))
				r.Get("/dashboard/compliance", s.handleComplianceDashboard)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
