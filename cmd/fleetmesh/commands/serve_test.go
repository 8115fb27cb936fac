package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/dapi"
	"github.com/fleetmesh/fleetmesh/pkg/stores"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// auditStoreStub captures the audit calls recordDispatch makes. The
// embedded interface panics on anything else, which is what we want.
type auditStoreStub struct {
	stores.Store
	created  []*stores.DispatchRecord
	results  []*stores.NodeResult
	statuses []stores.DispatchStatus
}

func (s *auditStoreStub) CreateDispatch(ctx context.Context, rec *stores.DispatchRecord) error {
	s.created = append(s.created, rec)
	return nil
}

func (s *auditStoreStub) AppendNodeResult(ctx context.Context, res *stores.NodeResult) error {
	s.results = append(s.results, res)
	return nil
}

func (s *auditStoreStub) FinishDispatch(ctx context.Context, id string, status stores.DispatchStatus, errorCode *int) error {
	s.statuses = append(s.statuses, status)
	return nil
}

// relayedPayload round-trips a peer's partial envelope through JSON the
// way the peer channel delivers it: generic maps, no typed errors.
func relayedPayload(t *testing.T) any {
	t.Helper()
	buf, err := json.Marshal(map[string]any{
		"data": map[string]any{"worker-1": "ok"},
		"partial_errors": map[string]*apierror.Error{
			"worker-2": apierror.NewInternal(3021).WithNodeError("worker-2",
				apierror.NodeError{Message: "timed out"}),
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var payload any
	if err := json.Unmarshal(buf, &payload); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return payload
}

func TestUnwrapForwardedPartial(t *testing.T) {
	resp := &dapi.Response{Data: relayedPayload(t)}

	unwrapForwardedPartial(resp)

	if !resp.Partial() {
		t.Fatal("relayed partial envelope not recognized")
	}
	e, ok := resp.PartialErrors["worker-2"]
	if !ok {
		t.Fatalf("partial errors = %v, want worker-2 entry", resp.PartialErrors)
	}
	if e.Code() != 3021 {
		t.Errorf("worker-2 error code = %d, want 3021", e.Code())
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["worker-1"] != "ok" {
		t.Errorf("unwrapped data = %#v", resp.Data)
	}
}

func TestUnwrapForwardedPartialLeavesPlainPayloads(t *testing.T) {
	payloads := []any{
		map[string]any{"running": true},
		map[string]any{"data": "x", "total": 3},
		map[string]any{"data": "x", "partial_errors": map[string]any{"w": "not an error"}},
		"scalar",
		nil,
	}
	for _, p := range payloads {
		resp := &dapi.Response{Data: p}
		unwrapForwardedPartial(resp)
		if resp.Partial() {
			t.Errorf("payload %#v misread as a partial envelope", p)
		}
	}
}

func TestRecordDispatchMarksRelayedPartial(t *testing.T) {
	store := &auditStoreStub{}
	req, err := dapi.NewRequest("node.ping", nil, dapi.PolicyDistributedMaster,
		dapi.WithTargetNodes("worker-1", "worker-2"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp := &dapi.Response{Data: relayedPayload(t)}
	unwrapForwardedPartial(resp)
	recordDispatch(context.Background(), store, telemetry.NopLogger(), req, resp, nil, time.Now().UTC())

	if len(store.statuses) != 1 || store.statuses[0] != stores.DispatchStatusPartial {
		t.Errorf("finish statuses = %v, want [partial]", store.statuses)
	}
	if len(store.results) != 1 || store.results[0].Node != "worker-2" {
		t.Fatalf("node results = %+v, want one worker-2 entry", store.results)
	}
	if store.results[0].ErrorCode == nil || *store.results[0].ErrorCode != 3021 {
		t.Errorf("node result code = %v, want 3021", store.results[0].ErrorCode)
	}
}
