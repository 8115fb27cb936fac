// Package remote implements the JSON-over-TCP line protocol FleetMesh
// manager nodes speak to each other, and the client/server pair that
// plugs it into the dispatch core as its cluster channel.
//
// Each connection carries one request: a CALL message from the caller,
// answered by exactly one RESULT or ERROR message. Taxonomy errors are
// serialized whole so code, kind and per-node attribution survive the
// wire; transport-level failures surface as plain errors and stay
// distinguishable from business failures.
package remote

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeCall carries a dispatch call to execute.
	MessageTypeCall MessageType = "CALL"
	// MessageTypeResult carries a successful payload back.
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError carries a taxonomy error back.
	MessageTypeError MessageType = "ERROR"
)

// Validate checks that the message type is known.
func (t MessageType) Validate() error {
	switch t {
	case MessageTypeCall, MessageTypeResult, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("unknown message type %q", t)
	}
}

// MaxMessageSize bounds a single protocol line. Payloads are API
// responses, not file transfers.
const MaxMessageSize = 8 << 20

// Message is the base structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ResultMessage answers a call with its payload.
type ResultMessage struct {
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorMessage answers a call with a taxonomy error.
type ErrorMessage struct {
	RequestID string          `json:"request_id"`
	Error     *apierror.Error `json:"error"`
}

// Encoder writes protocol messages to an io.Writer, one JSON document
// per line.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(msgType MessageType, data any) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(msgBytes) > MaxMessageSize {
		return fmt.Errorf("message exceeds maximum size: %d bytes", len(msgBytes))
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return e.w.Flush()
}

// EncodeCall writes a CALL message.
func (e *Encoder) EncodeCall(call cluster.Call) error {
	return e.Encode(MessageTypeCall, call)
}

// EncodeResult writes a RESULT message for the given request.
func (e *Encoder) EncodeResult(requestID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return e.Encode(MessageTypeResult, ResultMessage{RequestID: requestID, Payload: data})
}

// EncodeError writes an ERROR message for the given request.
func (e *Encoder) EncodeError(requestID string, taxErr *apierror.Error) error {
	return e.Encode(MessageTypeError, ErrorMessage{RequestID: requestID, Error: taxErr})
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), MaxMessageSize)
	return &Decoder{s: s}
}

// Decode reads the next message from the stream.
func (d *Decoder) Decode() (*Message, error) {
	if !d.s.Scan() {
		if err := d.s.Err(); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return nil, io.EOF
	}

	var msg Message
	if err := json.Unmarshal(d.s.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeCall reads the next message and requires it to be a CALL.
func (d *Decoder) DecodeCall() (cluster.Call, error) {
	msg, err := d.Decode()
	if err != nil {
		return cluster.Call{}, err
	}
	if msg.Type != MessageTypeCall {
		return cluster.Call{}, fmt.Errorf("expected CALL, got %s", msg.Type)
	}
	var call cluster.Call
	if err := json.Unmarshal(msg.Data, &call); err != nil {
		return cluster.Call{}, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return call, nil
}
