package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Protocol constants
const (
	// Actions
	ActionLookup = "lookup"

	// Response status tags
	StatusFound    = "found"
	StatusNotFound = "not_found"
	StatusError    = "error"

	// Error messages sent back to clients
	MsgInvalidJSON     = "Invalid JSON format"
	MsgInvalidEncoding = "Invalid encoding"
	MsgMissingWord     = "Missing word parameter"
	MsgInternalError   = "Internal server error"
	msgUnknownAction   = "Unknown action: "

	// DefaultBufferSize is the receive buffer for a single request datagram.
	DefaultBufferSize = 1024
)

var (
	// ErrInvalidEncoding is returned when a datagram is not valid UTF-8.
	ErrInvalidEncoding = errors.New("request is not valid UTF-8")
	// ErrInvalidJSON is returned when a datagram is not a JSON object with string fields.
	ErrInvalidJSON = errors.New("request is not a valid JSON object")
)

// Request is a decoded client request.
// Layout: {"action": "lookup", "word": "<string>"}
type Request struct {
	Action string `json:"action"`
	Word   string `json:"word"`
}

// Response is a reply datagram. Empty optional fields are omitted on the wire.
type Response struct {
	Status     string  `json:"status"`
	Word       string  `json:"word,omitempty"`
	Definition string  `json:"definition,omitempty"`
	Message    string  `json:"message,omitempty"`
	Timestamp  float64 `json:"timestamp"`
}

// DecodeRequest parses raw datagram bytes into a Request.
func DecodeRequest(data []byte) (*Request, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidEncoding
	}

	// Only objects are requests; null, arrays and scalars are rejected up front
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidJSON
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	return &req, nil
}

// Found builds a response for a word that has a definition.
func Found(word, definition string) Response {
	return Response{Status: StatusFound, Word: word, Definition: definition}
}

// NotFound builds a response for a word missing from the dictionary.
func NotFound(word string) Response {
	return Response{Status: StatusNotFound, Word: word}
}

// Error builds an error response carrying message.
func Error(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// UnknownAction builds the error response for an unsupported action.
func UnknownAction(action string) Response {
	return Error(msgUnknownAction + action)
}

// ErrorForDecode maps a DecodeRequest error to the client-facing error response.
func ErrorForDecode(err error) Response {
	if errors.Is(err, ErrInvalidEncoding) {
		return Error(MsgInvalidEncoding)
	}
	return Error(MsgInvalidJSON)
}

// Stamp sets the response generation timestamp as fractional Unix seconds.
func (r *Response) Stamp(t time.Time) {
	r.Timestamp = float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// Encode serializes the response to compact JSON.
func Encode(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a reply datagram. Used by clients.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Status == "" {
		return nil, fmt.Errorf("failed to decode response: missing status")
	}
	return &resp, nil
}

// EncodeRequest serializes a lookup request. Used by clients.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// String returns a human-readable representation of the response
func (r Response) String() string {
	switch r.Status {
	case StatusFound:
		return fmt.Sprintf("Response{Status:%s, Word:%q, Definition:%q}", r.Status, r.Word, r.Definition)
	case StatusNotFound:
		return fmt.Sprintf("Response{Status:%s, Word:%q}", r.Status, r.Word)
	default:
		return fmt.Sprintf("Response{Status:%s, Message:%q}", r.Status, r.Message)
	}
}
