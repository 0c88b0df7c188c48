package ledgerd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"projectledger/core/events"
	"projectledger/native/directory"
	"projectledger/native/fundingcycles"
	"projectledger/native/prices"
	"projectledger/native/terminal"
	"projectledger/observability"
	"projectledger/observability/audit"
)

const maxBodyBytes = 1 << 20

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RequestsPerSecond float64
	Burst             int
	Auth              AuthConfig
}

// Server exposes terminal operations, ledger views, the audit log and the
// live event stream over HTTP.
type Server struct {
	node    *Node
	audit   *audit.Store
	broker  *events.Broker
	limiter *RateLimiter
	auth    *Authenticator
	logger  *slog.Logger

	router http.Handler
}

// NewServer constructs the HTTP API. audit and broker may be nil, in which
// case the corresponding routes answer 503. Mutating routes require a bearer
// token whose subject is the acting address; they answer 503 when no signing
// secret is configured.
func NewServer(node *Node, store *audit.Store, broker *events.Broker, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    node,
		audit:   store,
		broker:  broker,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		auth:    NewAuthenticator(cfg.Auth, logger),
		logger:  logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events/ws", s.handleEventStream)

	r.Group(func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/terminal", s.handleTerminalInfo)
		api.Route("/projects/{id}", func(p chi.Router) {
			p.Get("/balance", s.handleBalance)
			p.Get("/overflow", s.handleOverflow)
			p.Get("/total-overflow", s.handleTotalOverflow)
			p.Get("/distribution-limit/used", s.handleUsedDistributionLimit)
			p.Get("/overflow-allowance/used", s.handleUsedOverflowAllowance)
			p.Get("/reclaimable", s.handleReclaimable)
			p.Get("/held-fees", s.handleHeldFees)
			p.Get("/funding-cycle", s.handleFundingCycle)
			p.Get("/holders/{address}", s.handleHolderBalance)

			p.Group(func(m chi.Router) {
				m.Use(s.auth.Middleware())
				m.Post("/pay", s.handlePay)
				m.Post("/add-to-balance", s.handleAddToBalance)
				m.Post("/distribute", s.handleDistribute)
				m.Post("/use-allowance", s.handleUseAllowance)
				m.Post("/redeem", s.handleRedeem)
				m.Post("/process-fees", s.handleProcessFees)
			})
		})
		api.Get("/vault/{address}", s.handleVaultBalance)
		api.With(s.auth.RequireAdmin()).Post("/vault/deposits", s.handleDeposit)

		api.Get("/audit", s.handleAudit)
		api.Get("/audit/verify", s.handleAuditVerify)
		api.Get("/audit/export", s.handleAuditExport)
	})

	return otelhttp.NewHandler(r, "ledgerd")
}

// observe records latency and status per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.ModuleMetrics().Observe("ledgerd", r.Method+" "+route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeOperationError maps terminal and collaborator errors to HTTP statuses.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error) {
	code := terminal.Code(err)
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, terminal.ErrUnauthorized), errors.Is(err, directory.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, directory.ErrProjectNotFound), errors.Is(err, fundingcycles.ErrFundingCycleNotFound):
		status = http.StatusNotFound
		if code == "UNKNOWN" {
			code = "NOT_FOUND"
		}
	case errors.Is(err, prices.ErrPriceFeedNotFound):
		status = http.StatusFailedDependency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		code = "UNAVAILABLE"
	case code == "UNKNOWN":
		status = http.StatusInternalServerError
		s.logger.Error("ledgerd request failed",
			slog.String("path", r.URL.Path),
			slog.String("requestId", chimw.GetReqID(r.Context())),
			slog.Any("error", err))
	}
	writeError(w, status, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload: "+err.Error())
		return false
	}
	return true
}
