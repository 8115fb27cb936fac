package ops

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

func noopHandler(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Callable{Name: "cluster.status", Handler: noopHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c, ok := r.Get("cluster.status")
	if !ok {
		t.Fatal("registered callable not found")
	}
	if c.Name != "cluster.status" || c.ContextAware {
		t.Errorf("callable = %+v", c)
	}

	if _, ok := r.Get("cluster.missing"); ok {
		t.Error("lookup of unregistered name succeeded")
	}
}

func TestRegistryRejectsBadCallables(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Callable{Handler: noopHandler}); err == nil {
		t.Error("unnamed callable accepted")
	}
	if err := r.Register(Callable{Name: "no.handler"}); err == nil {
		t.Error("handlerless callable accepted")
	}

	if err := r.Register(Callable{Name: "dup", Handler: noopHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Callable{Name: "dup", Handler: noopHandler}); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"nodes.info", "agents.list", "cluster.status"} {
		r.MustRegister(Callable{Name: name, Handler: noopHandler})
	}

	want := []string{"agents.list", "cluster.status", "nodes.info"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestPermissionsContextRoundTrip(t *testing.T) {
	perms := json.RawMessage(`{"actions":["cluster:read"]}`)
	ctx := WithPermissions(context.Background(), perms)

	if got := Permissions(ctx); string(got) != string(perms) {
		t.Errorf("permissions = %s, want %s", got, perms)
	}

	if got := Permissions(context.Background()); got != nil {
		t.Errorf("bare context reported permissions: %s", got)
	}
}
