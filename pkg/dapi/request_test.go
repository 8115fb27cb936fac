package dapi

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"local_any", "local_master", "distributed_master"} {
		p, err := ParsePolicy(s)
		if err != nil {
			t.Errorf("ParsePolicy(%q): %v", s, err)
		}
		if string(p) != s {
			t.Errorf("ParsePolicy(%q) = %q", s, p)
		}
	}

	_, err := ParsePolicy("scatter_gather")
	if !apierror.IsUser(err) {
		t.Errorf("unknown policy = %v, want user error", err)
	}
}

func TestNewRequestStripsNilArguments(t *testing.T) {
	req, err := NewRequest("agents.list", map[string]any{
		"offset": 0,
		"limit":  nil,
		"sort":   nil,
		"search": "web",
	}, PolicyLocalMaster)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	want := map[string]any{"offset": 0, "search": "web"}
	if !reflect.DeepEqual(req.Args, want) {
		t.Errorf("Args = %#v, want %#v", req.Args, want)
	}
	if req.ID == "" {
		t.Error("request has no ID")
	}
}

func TestRequestInvariants(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		opts    []RequestOption
		wantErr bool
	}{
		{name: "local_any plain", policy: PolicyLocalAny},
		{
			name:    "local_any with targets",
			policy:  PolicyLocalAny,
			opts:    []RequestOption{WithTargetNodes("worker-1")},
			wantErr: true,
		},
		{
			name:    "local_any broadcast",
			policy:  PolicyLocalAny,
			opts:    []RequestOption{WithBroadcast()},
			wantErr: true,
		},
		{name: "local_master plain", policy: PolicyLocalMaster},
		{
			name:    "local_master with targets",
			policy:  PolicyLocalMaster,
			opts:    []RequestOption{WithTargetNodes("worker-1")},
			wantErr: true,
		},
		{
			name:   "distributed with targets",
			policy: PolicyDistributedMaster,
			opts:   []RequestOption{WithTargetNodes("worker-1", "worker-2")},
		},
		{
			name:   "distributed broadcast",
			policy: PolicyDistributedMaster,
			opts:   []RequestOption{WithBroadcast()},
		},
		{
			name:    "distributed with neither",
			policy:  PolicyDistributedMaster,
			wantErr: true,
		},
		{
			name:    "distributed with both",
			policy:  PolicyDistributedMaster,
			opts:    []RequestOption{WithBroadcast(), WithTargetNodes("worker-1")},
			wantErr: true,
		},
		{
			name:    "distributed duplicate targets",
			policy:  PolicyDistributedMaster,
			opts:    []RequestOption{WithTargetNodes("worker-1", "worker-1")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest("some.op", nil, tt.policy, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRequest error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apierror.IsUser(err) {
				t.Errorf("invariant violation should be a user error, got %v", err)
			}
		})
	}
}

func TestNewRequestRejectsEmptyFunction(t *testing.T) {
	_, err := NewRequest("", nil, PolicyLocalAny)
	if !apierror.IsUser(err) {
		t.Errorf("empty function = %v, want user error", err)
	}
}

func TestFromCallRoundTrip(t *testing.T) {
	call := cluster.Call{
		RequestID: "req-42",
		Function:  "manager.stats",
		Args:      map[string]any{"hours": 6},
		Policy:    "distributed_master",
		Targets:   []string{"worker-1", "worker-2"},
		Wait:      true,
		Async:     true,
		Perms:     json.RawMessage(`{"subject":"alice"}`),
	}

	req, err := FromCall(call)
	if err != nil {
		t.Fatalf("FromCall: %v", err)
	}
	if req.ID != "req-42" || req.Function != "manager.stats" {
		t.Errorf("request = %+v", req)
	}
	if req.Policy != PolicyDistributedMaster || !req.WaitForComplete {
		t.Errorf("request = %+v", req)
	}
	if !req.IsAsync {
		t.Error("async flag lost on the wire")
	}
	if !reflect.DeepEqual(req.TargetNodes, call.Targets) {
		t.Errorf("targets = %v", req.TargetNodes)
	}
	if string(req.Permissions) != `{"subject":"alice"}` {
		t.Errorf("permissions = %s", req.Permissions)
	}
}

func TestFromCallAssignsMissingID(t *testing.T) {
	req, err := FromCall(cluster.Call{Function: "cluster.status", Policy: "local_any"})
	if err != nil {
		t.Fatalf("FromCall: %v", err)
	}
	if req.ID == "" {
		t.Error("request should get a fresh ID")
	}
}

func TestFromCallRejectsInvalidCall(t *testing.T) {
	_, err := FromCall(cluster.Call{Function: "cluster.status", Policy: "local_any", Broadcast: true})
	if !apierror.IsUser(err) {
		t.Errorf("err = %v, want user error", err)
	}
}
