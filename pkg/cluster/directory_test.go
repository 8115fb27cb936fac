package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
)

func testNodes() []Node {
	return []Node{
		{Name: "master-1", Role: RoleMaster, Address: "10.0.0.1:1516", Reachable: true},
		{Name: "worker-1", Role: RoleWorker, Address: "10.0.0.2:1516", Reachable: true},
		{Name: "worker-2", Role: RoleWorker, Address: "10.0.0.3:1516", Reachable: false},
	}
}

func TestSnapshotAccessors(t *testing.T) {
	s := NewSnapshot(testNodes())

	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}

	master, ok := s.Master()
	if !ok || master.Name != "master-1" {
		t.Errorf("Master = %v ok=%v, want master-1", master, ok)
	}

	live := s.Live()
	if len(live) != 2 {
		t.Fatalf("Live has %d nodes, want 2", len(live))
	}
	// Stable name order.
	if live[0].Name != "master-1" || live[1].Name != "worker-1" {
		t.Errorf("Live order = %v", live)
	}

	if _, ok := s.Get("worker-2"); !ok {
		t.Error("Get missed an unreachable but known node")
	}
	if _, ok := s.Get("worker-9"); ok {
		t.Error("Get found an unknown node")
	}
}

func TestDirectoryWrapsProviderFailure(t *testing.T) {
	dir := NewDirectory(ProviderFunc(func(context.Context) ([]Node, error) {
		return nil, errors.New("membership socket closed")
	}))

	_, err := dir.Nodes(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apierror.IsInternal(err) {
		t.Errorf("topology failure not internal: %v", err)
	}
	if apierror.CodeOf(err) != apierror.CodeTopologyUnavailable {
		t.Errorf("code = %d, want %d", apierror.CodeOf(err), apierror.CodeTopologyUnavailable)
	}
}

func TestDirectoryReflectsProviderAtCallTime(t *testing.T) {
	nodes := testNodes()
	dir := NewDirectory(ProviderFunc(func(context.Context) ([]Node, error) {
		out := make([]Node, len(nodes))
		copy(out, nodes)
		return out, nil
	}))

	s, err := dir.Nodes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}

	// A node joins between requests; the next snapshot must see it.
	nodes = append(nodes, Node{Name: "worker-3", Role: RoleWorker, Address: "10.0.0.4:1516", Reachable: true})
	s, err = dir.Nodes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("worker-3"); !ok {
		t.Error("snapshot did not reflect membership change")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		wantErr bool
	}{
		{name: "valid", nodes: testNodes(), wantErr: false},
		{name: "no master", nodes: []Node{{Name: "w1", Role: RoleWorker}}, wantErr: true},
		{
			name: "two masters",
			nodes: []Node{
				{Name: "m1", Role: RoleMaster},
				{Name: "m2", Role: RoleMaster},
			},
			wantErr: true,
		},
		{
			name: "duplicate name",
			nodes: []Node{
				{Name: "m1", Role: RoleMaster},
				{Name: "m1", Role: RoleWorker},
			},
			wantErr: true,
		},
		{
			name: "unknown role",
			nodes: []Node{
				{Name: "m1", Role: RoleMaster},
				{Name: "w1", Role: Role("observer")},
			},
			wantErr: true,
		},
		{name: "empty name", nodes: []Node{{Name: "", Role: RoleMaster}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.nodes)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
