package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicy(t *testing.T, dir, name, rego string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(rego), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "auditor.rego", auditorRego)
	writePolicy(t, dir, "notes.txt", "not a policy")

	policies, err := NewLoader(nil).LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(policies))
	}
	p := policies[0]
	if p.Name != "auditor" || !p.Enabled || p.Source == "" {
		t.Errorf("policy = %+v", p)
	}
	if p.Description != "Grants auditors read access to the audit trail." {
		t.Errorf("description = %q", p.Description)
	}
}

func TestLoadDirEmpty(t *testing.T) {
	policies, err := NewLoader(nil).LoadDir(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(policies) != 0 {
		t.Errorf("got %d policies from empty dir", len(policies))
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	engine := newTestEngine(t)
	loader := NewLoader(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loader.Watch(ctx, dir, engine); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer loader.Stop()

	writePolicy(t, dir, "auditor.rego", auditorRego)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := engine.GetPolicy("auditor"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("policy never reloaded after file change")
		}
		time.Sleep(50 * time.Millisecond)
	}

	dec, err := engine.Authorize(ctx, AccessRequest{Subject: "carol", Roles: []string{"auditor"}, Action: "audit:read"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !dec.Allowed {
		t.Error("reloaded policy not in effect")
	}
	if _, ok := engine.GetPolicy(BuiltinPolicyName); !ok {
		t.Error("built-in policy lost on reload")
	}
}
