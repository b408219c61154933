// Package api exposes the verification pipeline over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/esglend/verify-cli/internal/model"
	"github.com/esglend/verify-cli/internal/pricing"
	"github.com/esglend/verify-cli/internal/risk"
	"github.com/esglend/verify-cli/internal/source"
	"github.com/esglend/verify-cli/internal/store"
	"github.com/esglend/verify-cli/internal/verify"
)

// SourceStatus is the gateway surface the status endpoint reads.
type SourceStatus interface {
	Status() []source.StatusSnapshot
	CacheStats() source.CacheStats
}

// Server routes pipeline operations.
type Server struct {
	store        store.Store
	orchestrator *verify.Orchestrator
	scorer       *risk.Scorer
	engine       *pricing.Engine
	sources      SourceStatus
}

// NewServer builds the API server.
func NewServer(st store.Store, o *verify.Orchestrator, sc *risk.Scorer, e *pricing.Engine, src SourceStatus) *Server {
	return &Server{store: st, orchestrator: o, scorer: sc, engine: e, sources: src}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sources/status", s.handleSourceStatus)

		r.Route("/loans", func(r chi.Router) {
			r.Get("/", s.handleListLoans)
			r.Post("/", s.handleCreateLoan)

			r.Route("/{loanID}", func(r chi.Router) {
				r.Get("/", s.handleGetLoan)
				r.Post("/verify", s.handleVerify)
				r.Get("/verifications", s.handleListVerifications)
				r.Post("/risk", s.handleAssessRisk)
				r.Get("/risk", s.handleRiskHistory)
				r.Post("/pricing", s.handleCalculatePricing)
				r.Get("/pricing", s.handlePricingHistory)
				r.Get("/pricing/scenarios", s.handlePricingScenarios)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.sources.Status(),
		"cache":     s.sources.CacheStats(),
	})
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.store.ListLoans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if loans == nil {
		loans = []model.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var loan model.Loan
	if err := json.NewDecoder(r.Body).Decode(&loan); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if loan.BorrowerName == "" || loan.Principal <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("borrower_name and positive principal are required"))
		return
	}

	created, err := s.store.CreateLoan(r.Context(), loan)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.store.GetLoan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := s.orchestrator.Verify(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	vs, err := s.store.ListVerifications(r.Context(), chi.URLParam(r, "loanID"), 50)
	if err != nil {
		writeError(w, err)
		return
	}
	if vs == nil {
		vs = []model.Verification{}
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	a, err := s.scorer.Assess(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	as, err := s.store.ListRiskAssessments(r.Context(), chi.URLParam(r, "loanID"), 50)
	if err != nil {
		writeError(w, err)
		return
	}
	if as == nil {
		as = []model.RiskAssessment{}
	}
	writeJSON(w, http.StatusOK, as)
}

func (s *Server) handleCalculatePricing(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Calculate(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePricingHistory(w http.ResponseWriter, r *http.Request) {
	rs, err := s.engine.History(r.Context(), chi.URLParam(r, "loanID"), 50)
	if err != nil {
		writeError(w, err)
		return
	}
	if rs == nil {
		rs = []model.PricingRecord{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handlePricingScenarios(w http.ResponseWriter, r *http.Request) {
	rs, err := s.engine.SimulateScenarios(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// writeError maps domain errors onto HTTP statuses: conflicts for in-flight
// runs, unprocessable for loans not yet ready, not-found passthrough, and 500
// for the rest.
func writeError(w http.ResponseWriter, err error) {
	var (
		alreadyRunning *verify.AlreadyRunningError
		insufficient   *risk.InsufficientDataError
		notVerified    *pricing.NotYetVerifiedError
	)

	switch {
	case eris.As(err, &alreadyRunning):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case eris.As(err, &insufficient), eris.As(err, &notVerified):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case store.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
