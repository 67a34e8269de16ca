package mcpjsonrpc

// Based on JSON-RPC 2.0 Specification: https://www.jsonrpc.org/specification

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the only supported JSON-RPC version string.
const Version = "2.0"

// Request represents a JSON-RPC request object. A request without an ID is a
// notification.
type Request struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	ID      json.RawMessage `json:"id,omitempty"`     // Correlation id; absent for notifications
	Method  string          `json:"method"`           // Method to be invoked
	Params  json.RawMessage `json:"params,omitempty"` // Structured parameters
}

// Response represents a JSON-RPC response object.
type Response struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	ID      json.RawMessage `json:"id"`               // Must match request ID (or null if it could not be determined)
	Result  json.RawMessage `json:"result,omitempty"` // Required on success
	Error   *Error          `json:"error,omitempty"`  // Required on error
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`           // Error code
	Message string `json:"message"`        // Error message
	Data    any    `json:"data,omitempty"` // Additional data about the error
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Error codes (JSON-RPC standard codes plus server-defined ones)
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// -32000 to -32099: Server error (implementation-defined)
	CodeServerErrorToolNotFound     = -32001
	CodeServerErrorResourceNotFound = -32002
	CodeServerErrorPromptNotFound   = -32003
	CodeServerErrorDuplicate        = -32004
	CodeServerErrorNotInitialized   = -32005
	CodeServerErrorProtocolMismatch = -32006
)

// Message is the decoding target for any inbound envelope. Exactly one of
// the Is* predicates holds for a well-formed message.
type Message struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode parses a single JSON-RPC message.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}
	if msg.Version != Version {
		return &msg, fmt.Errorf("unsupported jsonrpc version %q", msg.Version)
	}
	return &msg, nil
}

func (m *Message) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// IsResponse reports whether the message is a response (result or error).
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.hasID()
}

// IsNotification reports whether the message is a one-way notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.hasID()
}

// Int64ID returns the correlation id as an int64 when it is numeric.
func (m *Message) Int64ID() (int64, bool) {
	if !m.hasID() {
		return 0, false
	}
	id, err := strconv.ParseInt(string(m.ID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IDFromInt64 encodes a numeric correlation id.
func IDFromInt64(id int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(id, 10))
}

// NewRequest builds a request with a numeric correlation id.
func NewRequest(id int64, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{Version: Version, ID: IDFromInt64(id), Method: method, Params: raw}, nil
}

// NewNotification builds a notification (no id).
func NewNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{Version: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a success response echoing id.
func NewResponse(id json.RawMessage, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{Version: Version, ID: id, Result: b}, nil
}

// NewErrorResponse builds an error response echoing id.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		Version: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return b, nil
}
