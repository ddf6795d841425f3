package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// RPCRequest represents a JSON-RPC 2.0 request
type RPCRequest struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	JSONRPC string                 `json:"jsonrpc"`
}

// RPCResponse represents a JSON-RPC 2.0 response
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// RPC error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
	RateLimitExceeded      = -32005
)

// EventMessage is a server-initiated frame. Request-scoped events
// (streamed ask progress) carry the id of the request they belong to;
// Seq orders frames within one connection.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	RequestID string      `json:"request_id,omitempty"`
	Session   string      `json:"session_key,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// AuthChallenge is the challenge sent to a freshly connected client
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse is the client's answer to a challenge
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult reports whether a challenge response was accepted
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo is a point-in-time view of one connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	RemoteAddr    string    `json:"remote_addr"`
	Idle          bool      `json:"idle"`
}

// MethodHandler handles one RPC method call. The client is nil for
// single-shot HTTP requests, which have no connection to stream events
// back over.
type MethodHandler func(ctx context.Context, client *Client, params map[string]interface{}) (interface{}, error)

// Client is one WebSocket connection. Writes go through SendJSON so
// concurrent request handlers never interleave frames on the wire.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	RemoteAddr    string
	AuthAttempts  int
	Limiter       *RateLimiter

	writeMu sync.Mutex
	seq     int64
}

// SendJSON writes one frame to the client
func (c *Client) SendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// SendEvent writes an event frame with the connection's next sequence
// number
func (c *Client) SendEvent(event, requestID, sessionKey string, data interface{}) error {
	return c.SendJSON(EventMessage{
		Type:      "event",
		Event:     event,
		RequestID: requestID,
		Session:   sessionKey,
		Seq:       atomic.AddInt64(&c.seq, 1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}
