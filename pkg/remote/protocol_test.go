package remote

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

func TestCallRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	call := cluster.Call{
		RequestID: "req-1",
		Function:  "agents.restart",
		Args:      map[string]any{"agent_list": []any{"001", "002"}},
		Policy:    "local_any",
		Wait:      true,
		Async:     true,
		Perms:     json.RawMessage(`{"actions":["agent:restart"]}`),
	}

	if err := NewEncoder(&buf).EncodeCall(call); err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}

	got, err := NewDecoder(&buf).DecodeCall()
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if got.RequestID != call.RequestID || got.Function != call.Function {
		t.Errorf("decoded call = %+v, want %+v", got, call)
	}
	if got.Policy != "local_any" || !got.Wait || !got.Async {
		t.Errorf("policy/wait/async not preserved: %+v", got)
	}
	if string(got.Perms) != string(call.Perms) {
		t.Errorf("perms = %s, want %s", got.Perms, call.Perms)
	}
}

func TestResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := map[string]any{"affected_items": []any{"001"}, "total": float64(1)}
	if err := NewEncoder(&buf).EncodeResult("req-2", payload); err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MessageTypeResult {
		t.Fatalf("type = %s, want RESULT", msg.Type)
	}

	var res ResultMessage
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.RequestID != "req-2" {
		t.Errorf("request id = %s", res.RequestID)
	}

	var decoded map[string]any
	if err := json.Unmarshal(res.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["total"] != float64(1) {
		t.Errorf("payload = %#v", decoded)
	}
}

func TestErrorRoundTripPreservesTaxonomy(t *testing.T) {
	var buf bytes.Buffer

	taxErr := apierror.NewUser(apierror.CodeAgentNotFound).
		WithMessage("agent 001").
		WithNodeError("worker-1", apierror.NodeError{Message: "agent 001 not found", LogFile: "cluster.log"})

	if err := NewEncoder(&buf).EncodeError("req-3", taxErr); err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	msg, err := NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MessageTypeError {
		t.Fatalf("type = %s, want ERROR", msg.Type)
	}

	var em ErrorMessage
	if err := json.Unmarshal(msg.Data, &em); err != nil {
		t.Fatalf("unmarshal error message: %v", err)
	}
	if em.Error == nil {
		t.Fatal("error body missing")
	}
	if em.Error.Code() != apierror.CodeAgentNotFound {
		t.Errorf("code = %d, want %d", em.Error.Code(), apierror.CodeAgentNotFound)
	}
	if !apierror.IsUser(em.Error) {
		t.Errorf("kind = %s, want user", em.Error.Kind())
	}
	nodes := em.Error.NodeErrors()
	if ne, ok := nodes["worker-1"]; !ok || ne.LogFile != "cluster.log" {
		t.Errorf("node errors = %#v", nodes)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	r := strings.NewReader(`{"type":"PING","timestamp":"2026-01-01T00:00:00Z"}` + "\n")
	if _, err := NewDecoder(r).Decode(); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestDecodeEOF(t *testing.T) {
	if _, err := NewDecoder(strings.NewReader("")).Decode(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestDecodeCallRejectsWrongType(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeResult("req-4", nil); err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	if _, err := NewDecoder(&buf).DecodeCall(); err == nil {
		t.Error("expected error when RESULT arrives in place of CALL")
	}
}

func TestEncodeRejectsInvalidType(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(MessageType("BOGUS"), nil); err == nil {
		t.Error("expected error for invalid message type")
	}
}
