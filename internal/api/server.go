package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dangkhuong14/dEx-application/internal/asset"
	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/observability"
	"github.com/dangkhuong14/dEx-application/internal/order"
	"github.com/dangkhuong14/dEx-application/internal/query"
)

// DedupStore records processed request ids durably. Satisfied by
// persistence.PostgresDedupChecker.
type DedupStore interface {
	MarkProcessed(ctx context.Context, op string, requestID string) error
}

// Server is the HTTP command and query surface. Mutating endpoints
// require a request_id and are deduplicated; reads are served from the
// live engine or the projection-backed query service.
type Server struct {
	engine      *engine.Engine
	queries     *query.Service
	deduper     *engine.RequestDeduper
	dedupStore  DedupStore
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger
	router      *mux.Router
}

func NewServer(
	eng *engine.Engine,
	queries *query.Service,
	deduper *engine.RequestDeduper,
	dedupStore DedupStore,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		engine:     eng,
		queries:    queries,
		deduper:    deduper,
		dedupStore: dedupStore,
		health:     health,
		metrics:    metrics,
		logger:     observability.NewLogger("api"),
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/api/deposits", s.instrument("deposits", s.handleDeposit)).Methods(http.MethodPost)
	r.HandleFunc("/api/withdrawals", s.instrument("withdrawals", s.handleWithdraw)).Methods(http.MethodPost)
	r.HandleFunc("/api/orders", s.instrument("make_order", s.handleMakeOrder)).Methods(http.MethodPost)
	r.HandleFunc("/api/orders/{id:[0-9]+}/cancel", s.instrument("cancel_order", s.handleCancelOrder)).Methods(http.MethodPost)
	r.HandleFunc("/api/orders/{id:[0-9]+}/fill", s.instrument("fill_order", s.handleFillOrder)).Methods(http.MethodPost)

	r.HandleFunc("/api/balances/{asset}/{account}", s.instrument("balance", s.handleBalance)).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{account}/balances", s.instrument("account_balances", s.handleAccountBalances)).Methods(http.MethodGet)
	r.HandleFunc("/api/orders/{id:[0-9]+}", s.instrument("get_order", s.handleGetOrder)).Methods(http.MethodGet)
	r.HandleFunc("/api/orders", s.instrument("list_orders", s.handleListOrders)).Methods(http.MethodGet)
	r.HandleFunc("/api/trades", s.instrument("trades", s.handleTrades)).Methods(http.MethodGet)
	r.HandleFunc("/api/records", s.instrument("records", s.handleRecords)).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.instrument("config", s.handleConfig)).Methods(http.MethodGet)
	r.HandleFunc("/api/integrity", s.instrument("integrity", s.handleIntegrity)).Methods(http.MethodGet)

	if s.health != nil {
		r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)
	}
}

// instrument wraps a handler with request counting and latency
// observation per endpoint.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps engine rejections onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, ledger.ErrAmountOverflow):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, asset.ErrUnknownAsset),
		errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, asset.ErrTransferRejected),
		errors.Is(err, asset.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrReentrantCall):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
