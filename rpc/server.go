package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"kusdcore/crypto"
	"kusdcore/native/stable"
	"kusdcore/observability"
	"kusdcore/state"
)

// ServerConfig carries the wiring for the JSON-RPC surface.
type ServerConfig struct {
	// NodeToken authorizes value-moving methods. Empty disables them.
	NodeToken string
	// JWTSecret verifies admin tokens. Empty disables admin methods.
	JWTSecret []byte
	// RateLimitPerMin bounds requests per client address.
	RateLimitPerMin int
	// Persist is called after every successful mutation. Optional.
	Persist func() error

	Hub         *EventHub
	Idempotency *IdempotencyStore
	Logger      *slog.Logger
}

// Server hosts the JSON-RPC endpoint plus the health, metrics, and event
// stream side channels.
type Server struct {
	components state.Components
	persist    func() error
	logger     *slog.Logger
	nodeToken  string
	jwtSecret  []byte
	hub        *EventHub
	idem       *IdempotencyStore
	metrics    *observability.RPCMetrics

	ratePerMin float64
	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter

	httpMu   sync.Mutex
	httpSrv  *http.Server
	startedAt time.Time
}

// NewServer wires the RPC surface over the protocol components.
func NewServer(components state.Components, cfg ServerConfig) (*Server, error) {
	if components.Bank == nil || components.Stable == nil || components.Yield == nil || components.Vault == nil {
		return nil, fmt.Errorf("rpc: protocol components incomplete")
	}
	if components.Pauses == nil || components.Roles == nil || components.Policy == nil {
		return nil, fmt.Errorf("rpc: registries incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 600
	}
	return &Server{
		components: components,
		persist:    cfg.Persist,
		logger:     logger,
		nodeToken:  strings.TrimSpace(cfg.NodeToken),
		jwtSecret:  cfg.JWTSecret,
		hub:        cfg.Hub,
		idem:       cfg.Idempotency,
		metrics:    observability.RPC(),
		ratePerMin: float64(perMin),
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// Hub returns the event hub serving /ws/events, if configured.
func (s *Server) Hub() *EventHub { return s.hub }

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "kusd.rpc"))
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return r
}

// Start serves the router on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.httpMu.Lock()
	s.httpSrv = srv
	s.startedAt = time.Now()
	s.httpMu.Unlock()
	s.logger.Info("rpc listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.httpSrv
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.httpMu.Lock()
	started := s.startedAt
	s.httpMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{"status": "ok"}
	if !started.IsZero() {
		payload["uptimeSeconds"] = int64(time.Since(started).Seconds())
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// responseRecorder buffers one JSON-RPC response so the server can inspect
// the outcome before flushing it to the client.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *responseRecorder) flush(w http.ResponseWriter) {
	for key, values := range r.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if r.status != http.StatusOK {
		w.WriteHeader(r.status)
	}
	_, _ = w.Write(r.body.Bytes())
}

func (r *responseRecorder) errorCode() int {
	var resp RPCResponse
	if err := json.Unmarshal(r.body.Bytes(), &resp); err != nil {
		return codeServerError
	}
	if resp.Error == nil {
		return 0
	}
	return resp.Error.Code
}

// handle parses the envelope, applies rate limiting and idempotency, and
// dispatches to the method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	corrID := strings.TrimSpace(r.Header.Get("X-Correlation-ID"))
	if corrID == "" || len(corrID) > 64 {
		corrID = uuid.NewString()
	}
	w.Header().Set("X-Correlation-ID", corrID)

	source := clientSource(r)
	if !s.allowSource(source) {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	mutating := isMutating(req.Method)
	idemKey := ""
	if mutating && s.idem != nil {
		idemKey = normalizeIdempotencyKey(r.Header.Get("Idempotency-Key"), req.Method)
		if idemKey != "" {
			if record, ok, err := s.idem.Get(idemKey, time.Now()); err != nil {
				s.logger.Error("idempotency lookup failed", "error", err, "correlationId", corrID)
			} else if ok {
				if record.StatusCode != http.StatusOK {
					w.WriteHeader(record.StatusCode)
				}
				_, _ = w.Write(record.Body)
				return
			}
		}
	}

	recorder := newResponseRecorder()
	started := time.Now()
	s.dispatch(recorder, r, req)
	duration := time.Since(started)

	code := recorder.errorCode()
	s.metrics.Observe(req.Method, code, duration)
	s.logger.Info("rpc request",
		"method", req.Method,
		"code", code,
		"durationMs", duration.Milliseconds(),
		"source", source,
		"correlationId", corrID,
	)

	if mutating && code == 0 {
		s.refreshGauges()
		if s.persist != nil {
			if err := s.persist(); err != nil {
				s.logger.Error("snapshot persist failed", "error", err, "correlationId", corrID)
			}
		}
	}
	if idemKey != "" {
		if err := s.idem.Put(idemKey, recorder.status, recorder.body.Bytes(), time.Now()); err != nil {
			s.logger.Error("idempotency store failed", "error", err, "correlationId", corrID)
		}
	}
	recorder.flush(w)
}

// isMutating reports whether a method moves value or changes configuration.
func isMutating(method string) bool {
	switch method {
	case "stable_deposit", "stable_initiateRedemption", "stable_completeRedemption",
		"stable_cancelRedemption", "stable_setGlobalLimit", "stable_setAssetLimit",
		"vault_stake", "vault_unstake",
		"yield_register", "yield_release", "yield_releaseFromActive", "yield_cancel",
		"admin_pause", "admin_resume", "admin_grantRole", "admin_revokeRole":
		return true
	default:
		return false
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "stable_deposit":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableDeposit(w, r, req)
	case "stable_previewDeposit":
		s.handleStablePreviewDeposit(w, r, req)
	case "stable_initiateRedemption":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableInitiateRedemption(w, r, req)
	case "stable_completeRedemption":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableCompleteRedemption(w, r, req)
	case "stable_cancelRedemption":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableCancelRedemption(w, r, req)
	case "stable_getRedemption":
		s.handleStableGetRedemption(w, r, req)
	case "stable_listRedemptions":
		s.handleStableListRedemptions(w, r, req)
	case "stable_limits":
		s.handleStableLimits(w, r, req)
	case "stable_setGlobalLimit":
		if authErr := s.requireScope(r, ScopeStableAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableSetGlobalLimit(w, r, req)
	case "stable_setAssetLimit":
		if authErr := s.requireScope(r, ScopeStableAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleStableSetAssetLimit(w, r, req)
	case "vault_stake":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleVaultStake(w, r, req)
	case "vault_unstake":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleVaultUnstake(w, r, req)
	case "vault_position":
		s.handleVaultPosition(w, r, req)
	case "yield_register":
		if authErr := s.requireScope(r, ScopeYieldAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleYieldRegister(w, r, req)
	case "yield_release":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleYieldRelease(w, r, req)
	case "yield_releaseFromActive":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleYieldReleaseFromActive(w, r, req)
	case "yield_cancel":
		if authErr := s.requireScope(r, ScopeYieldAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleYieldCancel(w, r, req)
	case "yield_getDistribution":
		s.handleYieldGetDistribution(w, r, req)
	case "yield_listActive":
		s.handleYieldListActive(w, r, req)
	case "yield_pending":
		s.handleYieldPending(w, r, req)
	case "bank_balance":
		s.handleBankBalance(w, r, req)
	case "bank_tokens":
		s.handleBankTokens(w, r, req)
	case "admin_pause":
		if authErr := s.requireScope(r, ScopeAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminPause(w, r, req)
	case "admin_resume":
		if authErr := s.requireScope(r, ScopeAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminResume(w, r, req)
	case "admin_pauses":
		s.handleAdminPauses(w, r, req)
	case "admin_grantRole":
		if authErr := s.requireScope(r, ScopeAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminGrantRole(w, r, req)
	case "admin_revokeRole":
		if authErr := s.requireScope(r, ScopeAdmin); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleAdminRevokeRole(w, r, req)
	case "admin_roles":
		s.handleAdminRoles(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		perSecond := s.ratePerMin / 60.0
		burst := int(s.ratePerMin / 6)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// refreshGauges pushes the capacity, supply, and active-set gauges after a
// successful mutation.
func (s *Server) refreshGauges() {
	limits := s.components.Stable.Limits()
	stableMetrics := observability.Stable()
	if !stable.IsUnlimited(limits.RemainingGlobal) {
		stableMetrics.RecordCapacity("global", limits.RemainingGlobal)
	}
	for _, asset := range limits.Assets {
		if !stable.IsUnlimited(asset.Remaining) {
			stableMetrics.RecordCapacity(asset.Asset.String(), asset.Remaining)
		}
	}
	stableMetrics.RecordSupply(s.components.Bank.TotalSupply(stable.KUSDSymbol))
	observability.Yield().SetActive(len(s.components.Yield.ActiveIDs()))
}

func parseAddressParam(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func parseAmountParam(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseLimitParam accepts a decimal wei limit, "0" for a hard block, or
// "unlimited" to clear the cap.
func parseLimitParam(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "unlimited") {
		return stable.Unlimited, nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("limit required")
	}
	limit, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed limit %q", value)
	}
	if limit.Sign() < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}
	return limit, nil
}
