package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/chatsync-db
  vault_path: /tmp/chatsync-vault/keys.enc
  max_body: 64KiB
gateway:
  base_url: https://chat.example.com
  auth_token: tok-123
  user_id: u1
  timeout: 5s
  rate_rps: 4
  rate_burst: 8
encryption:
  server_id: chat.example.com
  sweep_workers: 3
logging:
  level: debug
reconcile:
  enabled: true
  cron: "*/5 * * * *"
  batch_size: 50
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Server.MaxBody.Int64() != 64*1024 {
		t.Fatalf("max_body = %d", cfg.Server.MaxBody.Int64())
	}
	if cfg.Gateway.Timeout.Duration() != 5*time.Second {
		t.Fatalf("timeout = %v", cfg.Gateway.Timeout.Duration())
	}
	if cfg.Gateway.RateRPS != 4 || cfg.Gateway.RateBurst != 8 {
		t.Fatalf("rate = %v/%v", cfg.Gateway.RateRPS, cfg.Gateway.RateBurst)
	}
	if cfg.Encryption.ServerID != "chat.example.com" || cfg.Encryption.SweepWorkers != 3 {
		t.Fatalf("encryption = %+v", cfg.Encryption)
	}
	if !cfg.Reconcile.Enabled || cfg.Reconcile.Cron != "*/5 * * * *" || cfg.Reconcile.BatchSize != 50 {
		t.Fatalf("reconcile = %+v", cfg.Reconcile)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway:\n  timeout: 2\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Timeout.Duration() != 2*time.Second {
		t.Fatalf("timeout = %v", cfg.Gateway.Timeout.Duration())
	}
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATSYNC_ADDR", "0.0.0.0:7777")
	t.Setenv("CHATSYNC_DB_PATH", "/data/db")
	t.Setenv("CHATSYNC_GATEWAY_URL", "https://env.example.com")
	t.Setenv("CHATSYNC_RATE_RPS", "2.5")
	t.Setenv("CHATSYNC_RECONCILE", "true")
	t.Setenv("CHATSYNC_RECONCILE_CRON", "0 * * * *")

	cfg, res := ParseConfigEnvs()
	if !res.EnvUsed {
		t.Fatal("env not detected")
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.DBPath != "/data/db" {
		t.Fatalf("db = %q", cfg.Server.DBPath)
	}
	if cfg.Gateway.BaseURL != "https://env.example.com" {
		t.Fatalf("gateway = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.RateRPS != 2.5 {
		t.Fatalf("rps = %v", cfg.Gateway.RateRPS)
	}
	if !cfg.Reconcile.Enabled || cfg.Reconcile.Cron != "0 * * * *" {
		t.Fatalf("reconcile = %+v", cfg.Reconcile)
	}
}

func TestDotEnvFeedsEnvOverlay(t *testing.T) {
	// Values loaded from a .env file must be visible to ParseConfigEnvs,
	// so the dotenv load has to run before the env overlay is read.
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("CHATSYNC_GATEWAY_URL=https://dotenv.example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := godotenv.Load(envFile); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_GATEWAY_URL") })

	envCfg, envRes := ParseConfigEnvs()
	if !envRes.EnvUsed {
		t.Fatal("dotenv value not detected by env overlay")
	}
	if envCfg.Gateway.BaseURL != "https://dotenv.example.com" {
		t.Fatalf("gateway = %q", envCfg.Gateway.BaseURL)
	}

	res, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, &Config{}, false, envCfg, envRes)
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != "env" || res.Config.Gateway.BaseURL != "https://dotenv.example.com" {
		t.Fatalf("effective = %+v", res)
	}
}

func TestLoadEffectiveConfigPrefersFile(t *testing.T) {
	fileCfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	flags := Flags{Set: map[string]bool{}}
	res, err := LoadEffectiveConfig(flags, fileCfg, true, &Config{}, EnvResult{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != "config" || res.DBPath != "/tmp/chatsync-db" {
		t.Fatalf("effective = %+v", res)
	}
}

func TestLoadEffectiveConfigExplicitFlagMissingFile(t *testing.T) {
	flags := Flags{Config: "/does/not/exist.yaml", Set: map[string]bool{"config": true}}
	if _, err := LoadEffectiveConfig(flags, &Config{}, false, &Config{}, EnvResult{}); err == nil {
		t.Fatal("missing explicit config accepted")
	}
}
