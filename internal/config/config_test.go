package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/buxton-project/buxtond/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "buxtond.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
socket: /tmp/buxtond.socket
layers:
  - name: system
    type: system
    priority: 10
    path: /var/lib/buxton/system.db
  - name: user
    type: user
    priority: 5
    path: /var/lib/buxton/user.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Socket != "/tmp/buxtond.socket" {
		t.Errorf("Socket = %q", cfg.Socket)
	}
	layers := cfg.StoreLayers()
	if len(layers) != 2 {
		t.Fatalf("StoreLayers returned %d layers, want 2", len(layers))
	}
	if layers[0].Type != store.System || layers[1].Type != store.User {
		t.Errorf("layer types = %v, %v", layers[0].Type, layers[1].Type)
	}
}

func TestLoadDefaultsSocketPath(t *testing.T) {
	path := writeConfig(t, `
layers:
  - name: system
    type: system
    path: /var/lib/buxton/system.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Socket == "" {
		t.Error("expected a default socket path")
	}
}

func TestLoadRejectsMissingLayers(t *testing.T) {
	path := writeConfig(t, `socket: /tmp/x.socket`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a config with no layers")
	}
}

func TestLoadRejectsBadLayerType(t *testing.T) {
	path := writeConfig(t, `
layers:
  - name: bad
    type: wrong
    path: /tmp/bad.db
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid layer type")
	}
}

func TestLoadParsesRateLimit(t *testing.T) {
	path := writeConfig(t, `
layers:
  - name: system
    type: system
    path: /var/lib/buxton/system.db
rate_limit:
  enabled: true
  max_connections_per_uid: 20
  max_connections_per_minute: 120
  ban_duration_seconds: 60
  cleanup_interval_seconds: 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.RateLimit.MaxConnectionsPerUID != 20 {
		t.Errorf("MaxConnectionsPerUID = %d, want 20", cfg.RateLimit.MaxConnectionsPerUID)
	}
}

func TestLoadParsesHTTPListen(t *testing.T) {
	path := writeConfig(t, `
layers:
  - name: system
    type: system
    path: /var/lib/buxton/system.db
http_listen: 127.0.0.1:9153
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPListen != "127.0.0.1:9153" {
		t.Errorf("HTTPListen = %q, want 127.0.0.1:9153", cfg.HTTPListen)
	}
}

func TestLoadDefaultsHTTPListenEmpty(t *testing.T) {
	path := writeConfig(t, `
layers:
  - name: system
    type: system
    path: /var/lib/buxton/system.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPListen != "" {
		t.Errorf("HTTPListen = %q, want empty (HTTP server disabled)", cfg.HTTPListen)
	}
}
