// Package gateway serves the assistant over a local WebSocket
// endpoint. Clients authenticate with a challenge-response handshake
// over a shared token, then issue JSON-RPC requests; ask runs stream
// their progress back as event frames before the final response.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/agent"
	"github.com/selcan/mira/pkg/toolexec"
)

const (
	// DefaultHost keeps the gateway off the network unless explicitly
	// bound elsewhere
	DefaultHost = "127.0.0.1"

	// DefaultRatePerMinute is the sustained per-client request rate
	DefaultRatePerMinute = 60

	// DefaultBurst is the per-client burst allowance
	DefaultBurst = 10

	// shutdownGrace is how long Stop waits for in-flight requests
	shutdownGrace = 10 * time.Second
)

// Server is the gateway server
type Server struct {
	host          string
	port          int
	token         string
	ratePerMinute int
	burst         int

	auth     *Authenticator
	clients  *ClientRegistry
	runner   *agent.Runner
	executor *toolexec.Executor
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	methodsMu sync.RWMutex
	methods   map[string]MethodHandler

	server    *http.Server
	listener  net.Listener
	startedAt time.Time

	shutdownMu   sync.RWMutex
	shuttingDown bool
	inFlight     sync.WaitGroup
	clientWG     sync.WaitGroup
	serveWG      sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host          string // defaults to loopback
	Port          int    // 0 picks an ephemeral port
	Token         string
	Runner        *agent.Runner
	Executor      *toolexec.Executor // optional, backs the tools method
	RatePerMinute int
	Burst         int
	Logger        zerolog.Logger
}

// NewServer creates a gateway server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Token == "" {
		return nil, fmt.Errorf("auth token is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}

	s := &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		token:         cfg.Token,
		ratePerMinute: cfg.RatePerMinute,
		burst:         cfg.Burst,
		auth:          NewAuthenticator(cfg.Token),
		clients:       NewClientRegistry(),
		runner:        cfg.Runner,
		executor:      cfg.Executor,
		logger:        cfg.Logger,
		methods:       make(map[string]MethodHandler),
		upgrader: websocket.Upgrader{
			// Loopback server; local tools connect without an Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Start begins listening and returns once the port is bound. Serving
// continues in the background until Stop.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.server = &http.Server{Handler: mux}
	s.startedAt = time.Now()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Gateway listening")

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address, useful when Port was 0. Empty before
// Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server: in-flight requests get a grace
// period, then connections close
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.broadcast("server.shutdown", map[string]interface{}{
		"message": "server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn().Msg("Shutdown grace period elapsed, closing connections")
	}

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}
	s.clientWG.Wait()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	s.serveWG.Wait()

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

// broadcast sends an event frame to every authenticated client
func (s *Server) broadcast(event string, data interface{}) {
	for _, client := range s.clients.Authenticated() {
		if err := client.SendEvent(event, "", "", data); err != nil {
			s.logger.Debug().
				Err(err).
				Str("clientId", client.ID).
				Str("event", event).
				Msg("Failed to send broadcast event")
		}
	}
}

// Notify broadcasts a server-initiated event, such as a task reminder,
// to every authenticated client.
func (s *Server) Notify(event string, data interface{}) {
	s.broadcast(event, data)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler MethodHandler) error {
	if name == "" {
		return fmt.Errorf("method name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	s.methodsMu.Lock()
	defer s.methodsMu.Unlock()

	if _, exists := s.methods[name]; exists {
		return fmt.Errorf("method already registered: %s", name)
	}
	s.methods[name] = handler
	return nil
}

// Methods returns the registered method names, sorted
func (s *Server) Methods() []string {
	s.methodsMu.RLock()
	defer s.methodsMu.RUnlock()

	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clients returns a snapshot of connected clients
func (s *Server) Clients() []ClientInfo {
	return s.clients.Snapshot()
}

// handleWebSocket upgrades a connection and starts the auth handshake
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.shuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		RemoteAddr:   r.RemoteAddr,
		Limiter:      NewRateLimiter(s.ratePerMinute, s.burst),
	}

	s.clients.Add(client)
	observability.SetGatewayClients(s.clients.Count())

	s.logger.Info().
		Str("clientId", clientID).
		Str("remote", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	s.clientWG.Add(1)
	go s.handleClient(client)
}

// sendChallenge issues a fresh challenge to a client
func (s *Server) sendChallenge(client *Client) error {
	challenge, err := s.auth.Challenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	return client.SendJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

// handleClient reads frames from one connection until it closes
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		observability.SetGatewayClients(s.clients.Count())
		s.clientWG.Done()
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket read error")
			}
			return
		}

		s.clients.Touch(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage dispatches one inbound frame
func (s *Server) handleMessage(client *Client, message []byte) {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		s.handleAuth(client, authResp)
		return
	}

	if !client.Authenticated {
		s.sendError(client, "", AuthenticationRequired, "authentication required")
		return
	}

	req, err := parseRequest(message)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return
	}

	if !client.Limiter.Allow() {
		s.sendError(client, req.ID, RateLimitExceeded, "rate limit exceeded")
		return
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()

		ctx := tracing.WithRequestID(tracing.NewRequestContext(context.Background()), req.ID)
		response := s.route(ctx, client, req)
		if err := client.SendJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
}

// handleAuth processes a challenge response
func (s *Server) handleAuth(client *Client, authResp AuthResponse) {
	result := s.auth.HandleResponse(client, authResp.Signature)

	if err := client.SendJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")
	observability.RecordSecurityAudit(context.Background(), "ws_auth", client.ID, "denied",
		map[string]interface{}{"attempts": client.AuthAttempts})

	if client.AuthAttempts >= maxAuthAttempts {
		client.Conn.Close()
	}
}

// handleRPC handles single-shot HTTP JSON-RPC requests. No streaming:
// ask callers over HTTP get only the final response.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.Header.Get("X-Mira-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		observability.RecordSecurityAudit(r.Context(), "rpc_auth", r.RemoteAddr, "denied", nil)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := parseRequest(body)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Error: rpcErr})
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	ctx := tracing.WithRequestID(tracing.NewRequestContext(r.Context()), req.ID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("requestId", req.ID).
		Str("method", req.Method).
		Msg("HTTP RPC request")

	resp := s.route(ctx, nil, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// parseRequest parses and validates a JSON-RPC request
func parseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "missing id field"}
	}
	if req.Method == "" {
		return nil, &RPCError{Code: InvalidRequest, Message: "missing method field"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// route dispatches a parsed request to its method handler. Handler
// errors that are already RPCErrors pass through with their code;
// anything else maps to InternalError.
func (s *Server) route(ctx context.Context, client *Client, req *RPCRequest) *RPCResponse {
	s.methodsMu.RLock()
	handler, exists := s.methods[req.Method]
	s.methodsMu.RUnlock()

	if !exists {
		observability.RecordGatewayRequest(req.Method, false)
		return &RPCResponse{
			ID:      req.ID,
			JSONRPC: "2.0",
			Error: &RPCError{
				Code:    MethodNotFound,
				Message: fmt.Sprintf("method not found: %s", req.Method),
			},
		}
	}

	result, err := handler(ctx, client, req.Params)
	observability.RecordGatewayRequest(req.Method, err == nil)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		return &RPCResponse{ID: req.ID, JSONRPC: "2.0", Error: rpcErr}
	}

	return &RPCResponse{ID: req.ID, JSONRPC: "2.0", Result: result}
}

// sendError sends an error response to a client
func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
	}

	if err := client.SendJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}
