// Package v1 wires the HTTP surface of the ledger engine. Handlers stay
// thin: they decode, call a service, and map domain errors onto stable
// machine-readable codes. Business rules live in the service layer.
package v1

import (
	"context"
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/service/recon"
	"github.com/minerva-erp/glcore/internal/service/report"
)

// Pinger checks that the backing store is reachable. Used by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the services behind the HTTP surface. Recon and Importer may
// be nil when no bank accounts are configured; their routes then answer 404.
type Deps struct {
	Posting   posting.Service
	Directory directory.Service
	Aggregate aggregate.Service
	Reports   report.Service
	Recon     recon.Service
	Importer  *importer.Service
	Ready     Pinger
}

// Options carries the server tunables from the configuration snapshot.
type Options struct {
	// EnforceRoles requires X-Caller-Roles capabilities on mutating routes.
	EnforceRoles bool
	CORSOrigins  []string
}

// Server wires handlers and middleware using Chi.
type Server struct {
	posting   posting.Service
	directory directory.Service
	aggregate aggregate.Service
	reports   report.Service
	recon     recon.Service
	importer  *importer.Service
	ready     Pinger
	enforce   bool
	log       *slog.Logger
	rt        *chi.Mux
}

// New constructs the HTTP server with routes and middleware. The logger is
// used by request/response logging and panic recovery.
func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerCallerID, headerCallerRoles},
		MaxAge:         300,
	}))
	r.Use(callerContext)

	s := &Server{
		posting:   deps.Posting,
		directory: deps.Directory,
		aggregate: deps.Aggregate,
		reports:   deps.Reports,
		recon:     deps.Recon,
		importer:  deps.Importer,
		ready:     deps.Ready,
		enforce:   opts.EnforceRoles,
		log:       logger,
		rt:        r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches per-route
// middleware. Mutating routes carry a role guard; the guard is a no-op
// unless role enforcement is switched on.
func (s *Server) routes() {
	post := s.requireRole(rolePoster)
	admin := s.requireRole(roleAdmin)
	reconcile := s.requireRole(roleReconciler)

	// Journal entries (v1)
	s.rt.With(post, s.validatePostEntry()).Post("/v1/entries", s.postEntry)
	s.rt.With(s.validateListEntries()).Get("/v1/entries", s.listEntries)
	s.rt.Get("/v1/entries/{id}", s.getEntry)
	s.rt.With(post, s.validateReverseEntry()).Post("/v1/entries/{id}/reverse", s.reverseEntry)
	s.rt.With(admin).Post("/v1/entry-numbers/void", s.voidNumber)

	// Reports (v1)
	s.rt.With(s.validateTrialBalance()).Get("/v1/reports/trial-balance", s.trialBalance)
	s.rt.Get("/v1/reports/dimensions", s.dimensionalSummary)
	s.rt.Get("/v1/reports/profit-loss", s.profitAndLoss)
	s.rt.Get("/v1/reports/balance-sheet", s.balanceSheet)
	s.rt.Get("/v1/reports/aging", s.aging)
	s.rt.Get("/v1/integrity", s.verifyIntegrity)

	// Chart of accounts (v1)
	s.rt.With(admin, s.validatePostAccount()).Post("/v1/accounts", s.postAccount)
	s.rt.Get("/v1/accounts", s.listAccounts)
	s.rt.Get("/v1/accounts/{id}", s.getAccount)
	s.rt.With(admin).Patch("/v1/accounts/{id}", s.updateAccount)
	s.rt.With(admin).Delete("/v1/accounts/{id}", s.deactivateAccount)

	// Dimensions (v1)
	s.rt.Get("/v1/dimensions", s.listDimensionTypes)
	s.rt.With(admin).Post("/v1/dimensions", s.registerDimensionType)
	s.rt.Get("/v1/dimensions/{type}/values", s.listDimensionValues)
	s.rt.With(admin).Post("/v1/dimensions/{type}/values", s.postDimensionValue)
	s.rt.With(admin).Delete("/v1/dimensions/values/{id}", s.deactivateDimensionValue)

	// Bank reconciliation (v1)
	s.rt.With(reconcile).Post("/v1/reconciliations", s.runReconciliation)
	s.rt.Get("/v1/reconciliations", s.listReconciliations)
	s.rt.Get("/v1/reconciliations/{id}", s.getReconciliation)
	s.rt.With(reconcile).Post("/v1/reconciliations/{id}/items/{itemID}/confirm", s.confirmItem)
	s.rt.With(reconcile).Post("/v1/reconciliations/{id}/items/{itemID}/reject", s.rejectItem)
	s.rt.With(reconcile).Post("/v1/bank-accounts/{id}/statements", s.uploadStatement)

	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}
