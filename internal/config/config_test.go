package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestLoadConfigEmbeddedDefaults(t *testing.T) {
	path := writeConf(t, "{}\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("http addr=%q, want %q", cfg.HTTPAddr, ":3000")
	}
	if cfg.IntentsPath != filepath.Join(cfg.RootDir, "intents_lsf.json") {
		t.Fatalf("intents path=%q, want under root %q", cfg.IntentsPath, cfg.RootDir)
	}
	if cfg.Broadcast.ConnectedMessage != "Bienvenue (WS connecté)" {
		t.Fatalf("connected message=%q", cfg.Broadcast.ConnectedMessage)
	}
	if cfg.Broadcast.WriteTimeout != 5*time.Second {
		t.Fatalf("write timeout=%v, want 5s", cfg.Broadcast.WriteTimeout)
	}
	if len(cfg.Viewer.Triggers) != 1 || cfg.Viewer.Triggers[0].Clip != "HELLO_LSF" {
		t.Fatalf("triggers=%+v, want HELLO_LSF", cfg.Viewer.Triggers)
	}
	if cfg.Redis.URL != "" {
		t.Fatalf("redis url=%q, want empty", cfg.Redis.URL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConf(t, `
system_config:
  host: 127.0.0.1
  port: 8080
intents_path: /etc/lsf/intents.yaml
broadcast:
  queue_size: 8
viewer:
  triggers:
    - clip: THANKS_LSF
      asset: thanks.glb
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Fatalf("http addr=%q, want 127.0.0.1:8080", cfg.HTTPAddr)
	}
	if cfg.IntentsPath != "/etc/lsf/intents.yaml" {
		t.Fatalf("intents path=%q, want absolute path kept", cfg.IntentsPath)
	}
	if cfg.Broadcast.QueueSize != 8 {
		t.Fatalf("queue size=%d, want 8", cfg.Broadcast.QueueSize)
	}
	if len(cfg.Viewer.Triggers) != 1 || cfg.Viewer.Triggers[0].Clip != "THANKS_LSF" {
		t.Fatalf("triggers=%+v, want THANKS_LSF", cfg.Viewer.Triggers)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConf(t, "{}\n")
	t.Setenv("LSF_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LSF_HTTP_ADDR", ":9999")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("redis url=%q, want env value", cfg.Redis.URL)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("http addr=%q, want :9999", cfg.HTTPAddr)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadConfig(absent) error=nil, want non-nil")
	}
}

func TestTLSEnabledRequiresFiles(t *testing.T) {
	cfg := Config{TLSCertPath: "/nonexistent/server.crt", TLSKeyPath: "/nonexistent/server.key"}
	if cfg.TLSEnabled() {
		t.Fatal("TLSEnabled=true with missing files, want false")
	}
}
