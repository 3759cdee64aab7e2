package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bridge.ConnectTimeout != 10*time.Second || cfg.Bridge.TickTimeout != 2*time.Second {
		t.Fatalf("timeouts=%v/%v", cfg.Bridge.ConnectTimeout, cfg.Bridge.TickTimeout)
	}
	if cfg.Bridge.MaxSessions != 256 || cfg.Bridge.MaxParallelConnect != 8 {
		t.Fatalf("limits=%+v", cfg.Bridge)
	}
	if cfg.Log.Level != "info" || cfg.Bridge.WSPath != "/v1/ws" || !cfg.Arena.Lockstep {
		t.Fatalf("cfg=%+v", cfg)
	}
	bm := cfg.BridgeManager()
	if bm.TickTimeout != cfg.Bridge.TickTimeout || bm.MaxSessions != 256 {
		t.Fatalf("BridgeManager=%+v", bm)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickbridge.yaml")
	yml := `
log:
  level: debug
  format: json
bridge:
  tick_timeout: 500ms
  max_sessions: 4
mcp:
  hmac_secret: s3cret
  require_hmac: true
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TICKBRIDGE_BRIDGE_MAX_SESSIONS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log=%+v", cfg.Log)
	}
	if cfg.Bridge.TickTimeout != 500*time.Millisecond {
		t.Fatalf("tick_timeout=%v", cfg.Bridge.TickTimeout)
	}
	if cfg.Bridge.MaxSessions != 9 {
		t.Fatalf("env override not applied: max_sessions=%d", cfg.Bridge.MaxSessions)
	}
	if !cfg.MCP.RequireHMAC || cfg.MCP.HMACSecret != "s3cret" {
		t.Fatalf("mcp=%+v", cfg.MCP)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/tickbridge.yaml")
	if err == nil || !strings.Contains(err.Error(), "error reading config file") {
		t.Fatalf("err=%v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Bridge.TickTimeout = 0
	cfg.Bridge.WSPath = "ws"
	cfg.MCP.RequireHMAC = true
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"tick_timeout", "ws_path", "require_hmac"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TICKBRIDGE_MCP_LISTEN=127.0.0.1:9191\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Registers cleanup for the variable godotenv is about to set.
	t.Setenv("TICKBRIDGE_MCP_LISTEN", "")
	os.Unsetenv("TICKBRIDGE_MCP_LISTEN")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MCP.Listen != "127.0.0.1:9191" {
		t.Fatalf("mcp.listen=%q", cfg.MCP.Listen)
	}
}
