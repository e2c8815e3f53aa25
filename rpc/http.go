package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"p2pmarket/core/events"
	"p2pmarket/integrations/journal"
	"p2pmarket/native/bank"
	"p2pmarket/native/market"
	"p2pmarket/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Config wires the server's collaborators. Bank, Journal and Events are
// optional; the methods depending on them report method not found when
// unset.
type Config struct {
	Engine  *market.Engine
	Bank    *bank.Bank
	Journal *journal.Sink
	Events  *events.Broadcaster
	Auth    AuthConfig
	// RateLimitPerSecond and RateLimitBurst bound requests per client.
	RateLimitPerSecond float64
	RateLimitBurst     int
	EnableFaucet       bool
	Logger             *slog.Logger
}

// Server exposes the market engine over JSON-RPC 2.0.
type Server struct {
	engine  *market.Engine
	bank    *bank.Bank
	journal *journal.Sink
	events  *events.Broadcaster
	auth    *Authenticator
	limiter *RateLimiter
	faucet  bool
	logger  *slog.Logger
	methods map[string]method
	metrics interface {
		Observe(module, method string, code int, duration time.Duration)
		RecordThrottle(module, reason string)
	}
}

// NewServer constructs a server for cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("rpc: market engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  cfg.Engine,
		bank:    cfg.Bank,
		journal: cfg.Journal,
		events:  cfg.Events,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		faucet:  cfg.EnableFaucet,
		logger:  logger,
		metrics: observability.ModuleMetrics(),
	}
	s.methods = s.marketMethods()
	if s.bank != nil {
		for name, m := range s.bankMethods() {
			s.methods[name] = m
		}
	}
	if s.journal != nil {
		s.methods["market_records"] = method{handler: s.handleRecords}
	}
	return s, nil
}

// Handler returns the HTTP surface: JSON-RPC on POST /, the record stream on
// /ws/events, Prometheus metrics and a health probe.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(requestID)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	if s.events != nil {
		router.Get("/ws/events", s.handleEventsWS)
	}
	router.Post("/", s.handle)
	return otelhttp.NewHandler(router, "p2pmarket.rpc")
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// method is one JSON-RPC entry point. Authenticated methods receive the
// caller named by the bearer token.
type method struct {
	auth    bool
	handler func(ctx context.Context, caller [20]byte, params json.RawMessage) (interface{}, error)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.Allow(clientSource(r)) {
		s.metrics.RecordThrottle("rpc", "rate_limit")
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

	module, _, _ := strings.Cut(req.Method, "_")
	code := 0
	defer func() {
		s.metrics.Observe(module, req.Method, code, time.Since(start))
	}()

	m, ok := s.methods[req.Method]
	if !ok {
		code = codeMethodNotFound
		writeError(w, http.StatusNotFound, req.ID, code, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	var caller [20]byte
	if m.auth {
		account, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			code = authErr.Code
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		caller = account
	}
	var params json.RawMessage
	switch len(req.Params) {
	case 0:
		params = json.RawMessage(`{}`)
	case 1:
		params = req.Params[0]
	default:
		code = codeInvalidParams
		writeError(w, http.StatusBadRequest, req.ID, code, "invalid_params", "exactly one parameter object expected")
		return
	}

	result, err := m.handler(r.Context(), caller, params)
	if err != nil {
		status, rpcErr := s.toRPCError(err)
		code = rpcErr.Code
		s.logger.Debug("rpc request failed",
			slog.String("method", req.Method),
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.Any("error", err))
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}
