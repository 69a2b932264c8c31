package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ghost-Capital/lendex-catalyst/internal/apperr"
	"github.com/Ghost-Capital/lendex-catalyst/internal/config"
	"github.com/Ghost-Capital/lendex-catalyst/internal/escrow"
	"github.com/Ghost-Capital/lendex-catalyst/internal/hmacauth"
	"github.com/Ghost-Capital/lendex-catalyst/internal/idempotency"
	"github.com/Ghost-Capital/lendex-catalyst/internal/utxo"
)

const maxRequestBytes = 1 << 20

var (
	errInvalidRequest     = apperr.Validation("InvalidRequest", "invalid request")
	errMissingIdemKey     = apperr.Validation("MissingIdempotencyKey", "missing X-Idempotency-Key header")
	errIdemKeyReused      = apperr.StateConflict("IdempotencyKeyReused", "idempotency key was used with a different request")
	errIdempotencyBackend = apperr.ExternalService("IdempotencyStore", "idempotency store failed")
)

// Oracle is the bridge as served over HTTP. *oracle.Bridge satisfies it.
type Oracle interface {
	escrow.Verifier
	Handle(ctx context.Context, args []string) ([]byte, error)
}

// Loans drives the UTxO lock protocol. *utxo.Protocol satisfies it.
type Loans interface {
	OpenLoan(ctx context.Context, req utxo.OpenLoanRequest) (utxo.Receipt, error)
	CloseLoan(ctx context.Context, req utxo.CloseLoanRequest) (utxo.Receipt, error)
}

// Deps are the components the API fronts. Oracle and Loans are optional; their
// routes are only mounted when set.
type Deps struct {
	Escrow escrow.Client
	Oracle Oracle
	Loans  Loans
	Store  idempotency.Store
	// PolicyID is used for borrow requests that name only the loan sequence.
	PolicyID string
	Logger   *slog.Logger
	Now      func() time.Time
}

type Server struct {
	cfg         *config.AppConfig
	escrow      escrow.Client
	oracle      Oracle
	loans       Loans
	store       idempotency.Store
	policyID    string
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	validate    *requestValidator
	logger      *slog.Logger
	now         func() time.Time
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		cfg:      cfg,
		escrow:   deps.Escrow,
		oracle:   deps.Oracle,
		loans:    deps.Loans,
		store:    deps.Store,
		policyID: deps.PolicyID,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
			Now:     now,
		},
		metrics:  newMetricsRegistry(),
		validate: newRequestValidator(),
		logger:   logger,
		now:      now,
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Escrow.(interface{ Ping(context.Context) error }); ok {
		s.rpcHealthFn = checker.Ping
	}

	signed := func(h http.HandlerFunc) http.Handler {
		return s.hmac.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/custody", signed(s.handleCustody))
	mux.Handle("POST /api/v1/tokens/borrow", signed(s.handleBorrow))
	mux.Handle("POST /api/v1/tokens/pay", signed(s.handlePay))
	mux.Handle("POST /api/v1/tokens/claim", signed(s.handleClaim))
	mux.HandleFunc("GET /api/v1/tokens/{collection}/{tokenId}", s.handleGetToken)
	if s.oracle != nil {
		mux.Handle("POST /api/v1/oracle/requests", signed(s.handleOracleRequest))
	}
	if s.loans != nil {
		mux.Handle("POST /api/v1/loans/open", signed(s.handleOpenLoan))
		mux.Handle("POST /api/v1/loans/close", signed(s.handleCloseLoan))
	}
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.requestMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// idempotent runs fn once per X-Idempotency-Key. A replay with the same body
// gets the stored response; a different body under the same key is refused.
// Only successful responses are stored so failed requests can be retried.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, route string, fn func(body []byte) (int, any, error)) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		s.writeError(w, r, errMissingIdemKey)
		return
	}
	key = route + ":" + key

	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		s.writeError(w, r, errIdempotencyBackend.With(err))
		return
	}
	if existing != nil {
		if !existing.Matches(body) {
			s.writeError(w, r, errIdemKeyReused)
			return
		}
		s.metrics.incReplay(route)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		return
	}

	status, resp, err := fn(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := s.now()
	record := idempotency.Record{
		RequestHash: idempotency.HashRequest(body),
		StatusCode:  status,
		Response:    b,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
	}
	if err := s.store.Save(ctx, key, record); err != nil {
		// the operation already happened; report it and leave the key unclaimed
		s.logger.Error("idempotency save failed", "route", route, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errInvalidRequest.Withf("empty body")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		return nil, errInvalidRequest.With(err)
	}
	if len(body) > maxRequestBytes {
		return nil, errInvalidRequest.Withf("body exceeds %d bytes", maxRequestBytes)
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errInvalidRequest.Withf("invalid json payload: %v", err)
	}
	return nil
}

// bind decodes body into v and checks v's validate tags.
func (s *Server) bind(body []byte, v any) error {
	if err := decodeJSON(body, v); err != nil {
		return err
	}
	return s.validate.Validate(v)
}

func (s *Server) decodeRequest(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return s.bind(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := s.logger.With("request_id", r.Header.Get("X-Request-Id"), "path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Info("request rejected", "status", status, "err", err)
	}
	resp := errorResponse{
		Error:   apperr.KindOf(err).String(),
		Code:    apperr.CodeOf(err),
		Message: err.Error(),
	}
	var fields fieldErrors
	if errors.As(err, &fields) {
		resp.Details = fields
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string `json:"status"`
		RPC      any    `json:"rpc"`
		Database any    `json:"database"`
		Oracle   bool   `json:"oracle"`
		Loans    bool   `json:"loans"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Oracle:   s.oracle != nil,
		Loans:    s.loans != nil,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestMiddleware assigns a request id and records latency per route pattern.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.observe(route, rec.status, elapsed)
		s.logger.Debug("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperr.CodeOf(err); code != "" {
		return code
	}
	return "error"
}
