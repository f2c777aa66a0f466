package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep-core/internal/attempt"
	auth "github.com/mind-engage/certprep-core/internal/auth/middleware"
	"github.com/mind-engage/certprep-core/internal/exam"
	"github.com/mind-engage/certprep-core/internal/license"
	"github.com/mind-engage/certprep-core/internal/paywall"
	"github.com/mind-engage/certprep-core/internal/rbac"
	syncx "github.com/mind-engage/certprep-core/internal/sync"
)

type Deps struct {
	Auth    *auth.AuthService
	Engine  *attempt.Engine
	Guard   *license.Guard
	Bank    exam.Bank
	Paywall paywall.Gate
	Events  syncx.Log
	// DB is pinged by /readyz when set.
	DB *sql.DB
}

// Mount registers the protected API on r (JWT -> subject/role -> RBAC).
func Mount(r chi.Router, d Deps) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			if err := d.DB.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		pr.With(rbac.Require("exam:view")).
			Get("/exams/{examID}", GetExamHandler(d.Bank, d.Guard, d.Paywall))
		pr.With(rbac.Require("paywall:view")).
			Get("/exams/{examID}/paywall", PaywallHandler(d.Guard, d.Paywall))

		// Student flow
		pr.With(rbac.Require("attempt:create")).
			Post("/exams/{examID}/attempts", StartAttemptHandler(d.Engine))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts", ListAttemptsHandler(d.Engine))
		pr.With(rbac.Require("attempt:view-own")).
			Get("/attempts/{attemptID}", GetAttemptHandler(d.Engine))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/answers/{questionID}", RecordAnswerHandler(d.Engine))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(d.Engine))

		// Administration
		pr.Route("/admin", func(ar chi.Router) {
			ar.With(rbac.Require("entitlement:create")).
				Post("/entitlements", CreateEntitlementHandler(d.Guard))
			ar.With(rbac.Require("entitlement:unlock")).
				Post("/entitlements/{entitlementID}/unlock", UnlockEntitlementHandler(d.Guard))
			ar.With(rbac.Require("entitlement:view")).
				Get("/entitlements/{entitlementID}/lock-status", LockStatusHandler(d.Guard))
			ar.With(rbac.Require("entitlement:view")).
				Get("/entitlements/{entitlementID}/events", EntitlementEventsHandler(d.Guard))
			if d.Events != nil {
				ar.With(rbac.Require("events:view")).
					Get("/events", EventLogHandler(d.Events))
			}
		})
	})
}
