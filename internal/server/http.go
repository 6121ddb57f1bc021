package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PrizePool/internal/core"
	"PrizePool/internal/observability"
	"PrizePool/internal/pool"
	"PrizePool/internal/query"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine  *core.Engine
	Query   *query.Service
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger

	// AdminToken, when set, is required as a bearer token on mutating
	// endpoints. The engine still enforces the admin principal check;
	// this is transport-level gating only.
	AdminToken string
}

// Server is the HTTP/JSON API over the pool engine and query service.
type Server struct {
	engine     *core.Engine
	query      *query.Service
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	logger     zerolog.Logger
	adminToken string

	router http.Handler
}

func New(cfg Config) *Server {
	s := &Server{
		engine:     cfg.Engine,
		query:      cfg.Query,
		health:     cfg.Health,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		adminToken: cfg.AdminToken,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(mut chi.Router) {
			mut.Use(s.requireBearer)
			mut.Post("/init", s.handleInit)
			mut.Post("/fund", s.handleFund)
			mut.Post("/reserve", s.handleReserve)
			mut.Post("/release", s.handleRelease)
			mut.Post("/payout", s.handlePayout)
		})

		v1.Get("/pool", s.handleGetPool)
		v1.Get("/reservations", s.handleListReservations)
		v1.Get("/events", s.handleListEvents)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type initRequest struct {
	RequestID string `json:"request_id"`
	Admin     string `json:"admin"`
	Asset     string `json:"asset"`
}

type fundRequest struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	Amount    int64  `json:"amount"`
}

type reserveRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	GameID    string `json:"game_id"`
	Amount    int64  `json:"amount"`
}

type payoutRequest struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	To        string `json:"to"`
	GameID    string `json:"game_id"`
	Amount    int64  `json:"amount"`
}

type opResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID, ok := parseRequestID(w, req.RequestID)
	if !ok {
		return
	}
	admin, err := uuid.Parse(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid admin id")
		return
	}
	if strings.TrimSpace(req.Asset) == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	if err := s.engine.Init(requestID, admin, req.Asset); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{RequestID: requestID.String(), Status: "committed"})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID, ok := parseRequestID(w, req.RequestID)
	if !ok {
		return
	}
	from, err := uuid.Parse(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from id")
		return
	}

	if err := s.engine.Fund(r.Context(), requestID, from, req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{RequestID: requestID.String(), Status: "committed"})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID, ok := parseRequestID(w, req.RequestID)
	if !ok {
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller id")
		return
	}
	if req.GameID == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}

	if err := s.engine.Reserve(requestID, caller, req.GameID, req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{RequestID: requestID.String(), Status: "committed"})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID, ok := parseRequestID(w, req.RequestID)
	if !ok {
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller id")
		return
	}
	if req.GameID == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}

	if err := s.engine.Release(requestID, caller, req.GameID, req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{RequestID: requestID.String(), Status: "committed"})
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID, ok := parseRequestID(w, req.RequestID)
	if !ok {
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller id")
		return
	}
	to, err := uuid.Parse(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to id")
		return
	}
	if req.GameID == "" {
		writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}

	if err := s.engine.Payout(r.Context(), requestID, caller, to, req.GameID, req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opResponse{RequestID: requestID.String(), Status: "committed"})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status, err := s.engine.Query()
	if err != nil {
		s.queryMetrics("pool", "error", start)
		s.writeOpError(w, err)
		return
	}

	s.queryMetrics("pool", "ok", start)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	after := r.URL.Query().Get("after")
	limit := parseLimit(r, 100)

	results, err := s.query.ListReservations(r.Context(), after, limit)
	if err != nil {
		s.queryMetrics("reservations", "error", start)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	s.queryMetrics("reservations", "ok", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": results})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var gameID *string
	if g := r.URL.Query().Get("game_id"); g != "" {
		gameID = &g
	}
	var afterSeq *int64
	if a := r.URL.Query().Get("after"); a != "" {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterSeq = &v
	}
	limit := parseLimit(r, 100)

	events, err := s.query.ListEvents(r.Context(), gameID, afterSeq, limit)
	if err != nil {
		s.queryMetrics("events", "error", start)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	s.queryMetrics("events", "ok", start)
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// requireBearer rejects mutating requests without the configured bearer
// token. A blank token disables the check (local development).
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != s.adminToken {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) queryMetrics(endpoint, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// writeOpError maps engine errors to HTTP status codes.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, pool.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, pool.ErrReservationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrAlreadyInitialized),
		errors.Is(err, pool.ErrNotInitialized),
		errors.Is(err, pool.ErrGameAlreadyReserved):
		status = http.StatusConflict
	case errors.Is(err, pool.ErrInsufficientFunds),
		errors.Is(err, pool.ErrPayoutExceedsReservation),
		errors.Is(err, pool.ErrOverflow):
		status = http.StatusUnprocessableEntity
	default:
		// Includes token gateway failures after rollback.
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func parseRequestID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if raw == "" {
		// Caller opted out of idempotency; assign a fresh id.
		return uuid.New(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request_id")
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > 1000 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
