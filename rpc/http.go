package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tixledger/native/ticketing"
	"tixledger/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "TIX_RPC_TOKEN"

	mutationRatePerSecond = 5
	mutationBurst         = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeNotOwner             = -32041
	codeInsufficientTickets  = -32042
	codeInsufficientFunds    = -32043
	codeTransferFailed       = -32044
	codeInvalidPrice         = -32045
	codeInvalidAmount        = -32046
	codeInvalidRate          = -32047
	codeReserveLimitExceeded = -32048
	codeSameUser             = -32049
)

// Server exposes the ticketing engine over JSON-RPC 2.0. The engine is
// strictly serial, so every operation (mutation or query) runs under a single
// mutex; concurrency control lives here, not in the engine.
type Server struct {
	engine *ticketing.Engine
	logger *slog.Logger

	mu       sync.Mutex
	limiters sync.Map // remote host -> *rate.Limiter

	authToken string
}

// NewServer creates an RPC server for the supplied engine. Mutating methods
// require the bearer token from TIX_RPC_TOKEN when one is configured.
func NewServer(engine *ticketing.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		logger:    logger,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

// Handler returns the http.Handler serving the RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("JSON-RPC server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allowMutation(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	value, _ := s.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(mutationRatePerSecond), mutationBurst))
	return value.(*rate.Limiter).Allow()
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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

	if handler, ok := s.queryHandlers()[req.Method]; ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		handler(w, req)
		return
	}

	handler, ok := s.mutationHandlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowMutation(r) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handler(w, req)
}

// engineError maps an engine failure to a JSON-RPC error and records it.
func (s *Server) engineError(w http.ResponseWriter, req *RPCRequest, op string, err error) {
	code, reason := codeServerError, "internal"
	switch {
	case errors.Is(err, ticketing.ErrNotOwner):
		code, reason = codeNotOwner, "not_owner"
	case errors.Is(err, ticketing.ErrInsufficientTickets):
		code, reason = codeInsufficientTickets, "insufficient_tickets"
	case errors.Is(err, ticketing.ErrInsufficientFunds):
		code, reason = codeInsufficientFunds, "insufficient_funds"
	case errors.Is(err, ticketing.ErrTransferFailed):
		code, reason = codeTransferFailed, "transfer_failed"
	case errors.Is(err, ticketing.ErrInvalidPrice):
		code, reason = codeInvalidPrice, "invalid_price"
	case errors.Is(err, ticketing.ErrInvalidAmount):
		code, reason = codeInvalidAmount, "invalid_amount"
	case errors.Is(err, ticketing.ErrInvalidRate):
		code, reason = codeInvalidRate, "invalid_rate"
	case errors.Is(err, ticketing.ErrReserveLimitExceeded):
		code, reason = codeReserveLimitExceeded, "reserve_limit_exceeded"
	case errors.Is(err, ticketing.ErrSameUser):
		code, reason = codeSameUser, "same_user"
	}
	metrics.Ticketing().ObserveRejected(op, reason)
	writeError(w, http.StatusOK, req.ID, code, err.Error(), nil)
}

func (s *Server) committed(w http.ResponseWriter, req *RPCRequest, op string) {
	metrics.Ticketing().ObserveCommitted(op)
	if reserve, err := s.engine.Reserve(); err == nil {
		metrics.Ticketing().SetReserve(reserve)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
