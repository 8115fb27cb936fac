package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

// startServer runs a server on an ephemeral port and returns its
// address plus a stop function.
func startServer(t *testing.T, handler Handler) string {
	t.Helper()

	srv, err := NewServer(ServerConfig{
		ListenAddress: "127.0.0.1:0",
		Handler:       handler,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound its listener")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv.Addr()
}

func TestClientServerSuccess(t *testing.T) {
	addr := startServer(t, func(ctx context.Context, call cluster.Call) (any, error) {
		return map[string]any{"echo": call.Args["value"], "from": "worker-1"}, nil
	})

	client := NewClient(ClientConfig{})
	payload, err := client.Call(context.Background(),
		cluster.Node{Name: "worker-1", Address: addr},
		cluster.Call{RequestID: "req-1", Function: "test.echo", Args: map[string]any{"value": "hello"}, Policy: "local_any"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	m, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %#v, want map", payload)
	}
	if m["echo"] != "hello" || m["from"] != "worker-1" {
		t.Errorf("payload = %#v", m)
	}
}

func TestClientServerTaxonomyError(t *testing.T) {
	addr := startServer(t, func(ctx context.Context, call cluster.Call) (any, error) {
		return nil, apierror.NewUser(apierror.CodeAgentNotFound).WithMessage("agent 007")
	})

	client := NewClient(ClientConfig{})
	_, err := client.Call(context.Background(),
		cluster.Node{Name: "worker-1", Address: addr},
		cluster.Call{RequestID: "req-2", Function: "agents.get"})
	if err == nil {
		t.Fatal("expected error")
	}

	var taxErr *apierror.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("err = %v, want taxonomy error", err)
	}
	if taxErr.Code() != apierror.CodeAgentNotFound || !apierror.IsUser(taxErr) {
		t.Errorf("code/kind = %d/%s", taxErr.Code(), taxErr.Kind())
	}
}

func TestClientServerWrapsPlainHandlerError(t *testing.T) {
	addr := startServer(t, func(ctx context.Context, call cluster.Call) (any, error) {
		return nil, errors.New("registry on fire")
	})

	client := NewClient(ClientConfig{})
	_, err := client.Call(context.Background(),
		cluster.Node{Name: "worker-1", Address: addr},
		cluster.Call{RequestID: "req-3", Function: "test.fail"})

	var taxErr *apierror.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("err = %v, want taxonomy error", err)
	}
	if taxErr.Code() != apierror.CodeInternal || !apierror.IsInternal(taxErr) {
		t.Errorf("code/kind = %d/%s", taxErr.Code(), taxErr.Kind())
	}
}

func TestClientDialFailureIsPlainError(t *testing.T) {
	client := NewClient(ClientConfig{DialTimeout: 200 * time.Millisecond})
	_, err := client.Call(context.Background(),
		cluster.Node{Name: "ghost", Address: "127.0.0.1:1"},
		cluster.Call{RequestID: "req-4", Function: "test.noop"})
	if err == nil {
		t.Fatal("expected dial error")
	}

	var taxErr *apierror.Error
	if errors.As(err, &taxErr) {
		t.Errorf("transport failure should not be a taxonomy error: %v", err)
	}
}

func TestClientHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	addr := startServer(t, func(ctx context.Context, call cluster.Call) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client := NewClient(ClientConfig{})
	start := time.Now()
	_, err := client.Call(ctx,
		cluster.Node{Name: "worker-1", Address: addr},
		cluster.Call{RequestID: "req-5", Function: "test.block"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call took %v, should give up at the deadline", elapsed)
	}
}

func TestClientRejectsNodeWithoutAddress(t *testing.T) {
	client := NewClient(ClientConfig{})
	_, err := client.Call(context.Background(), cluster.Node{Name: "worker-1"}, cluster.Call{RequestID: "r"})
	if err == nil {
		t.Error("expected error for node without address")
	}
}
