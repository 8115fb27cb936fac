package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("worker-1.example.com", "fleetmesh")

	if cfg.Host != "worker-1.example.com" || cfg.User != "fleetmesh" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Port != 22 {
		t.Errorf("port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("auth method = %s, want key", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("strict host key checking should default on")
	}
	if cfg.LogDir == "" {
		t.Error("log dir should have a default")
	}
}

func TestConfigValidation(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "missing user", mutate: func(c *Config) { c.User = "" }, wantErr: true},
		{
			name: "password auth without password",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			wantErr: true,
		},
		{
			name: "password auth with password",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
		},
		{
			name:    "missing key file",
			mutate:  func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" },
			wantErr: true,
		},
		{
			name:    "unknown auth method",
			mutate:  func(c *Config) { c.AuthMethod = "agent" },
			wantErr: true,
		},
		{
			name:    "zero connection timeout",
			mutate:  func(c *Config) { c.ConnectionTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero command timeout",
			mutate:  func(c *Config) { c.CommandTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("worker-1", "fleetmesh")
			cfg.PrivateKeyPath = keyPath
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("10.0.0.2", "fleetmesh")
	cfg.Port = 2222
	if got := cfg.Address(); got != "10.0.0.2:2222" {
		t.Errorf("Address() = %q", got)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		cfg := DefaultConfig("worker-1", "fleetmesh")
		cfg.AuthMethod = AuthMethodPassword
		cfg.Password = "secret"
		cfg.StrictHostKeyChecking = false

		clientConfig, err := cfg.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig: %v", err)
		}

		if clientConfig.User != "fleetmesh" {
			t.Errorf("user = %q", clientConfig.User)
		}
		// Password plus keyboard-interactive fallback.
		if len(clientConfig.Auth) != 2 {
			t.Errorf("auth methods = %d, want 2", len(clientConfig.Auth))
		}
		if clientConfig.Timeout != 30*time.Second {
			t.Errorf("timeout = %v", clientConfig.Timeout)
		}
	})

	t.Run("key authentication", func(t *testing.T) {
		cfg := DefaultConfig("worker-1", "fleetmesh")
		cfg.PrivateKeyPath = writeTestKey(t)
		cfg.StrictHostKeyChecking = false

		clientConfig, err := cfg.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig: %v", err)
		}
		if len(clientConfig.Auth) != 1 {
			t.Errorf("auth methods = %d, want 1", len(clientConfig.Auth))
		}
	})

	t.Run("unreadable key", func(t *testing.T) {
		cfg := DefaultConfig("worker-1", "fleetmesh")
		cfg.PrivateKeyPath = filepath.Join(t.TempDir(), "absent")
		cfg.StrictHostKeyChecking = false

		if _, err := cfg.BuildSSHClientConfig(); err == nil {
			t.Error("expected error for unreadable key")
		}
	})
}

// writeTestKey generates an ED25519 key and writes it in OpenSSH PEM
// format.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return keyPath
}
