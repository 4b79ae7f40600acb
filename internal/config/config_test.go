package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskboard/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.BasePath != "/api" || cfg.Auth.CookieName != "auth" || cfg.Auth.MaxAge != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.History.ListLimit != 200 || cfg.Store.Driver != config.DriverSQLite || cfg.Workflow.ResetDoneOnReopen {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Server.BlockedUserAgents) != 5 {
		t.Fatalf("expected default user-agent blocklist, got %v", cfg.Server.BlockedUserAgents)
	}
}

func TestFromYAMLLayersOverDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("workflow:\n  reset_done_on_reopen: true\nhistory:\n  list_limit: 50\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Workflow.ResetDoneOnReopen || cfg.History.ListLimit != 50 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.Addr == "" || cfg.Auth.CookieName != "auth" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":        "store:\n  driver: postgres\n",
		"mongo uri":     "store:\n  driver: mongo\n",
		"base path":     "server:\n  base_path: api\n",
		"signed secret": "auth:\n  signed_sessions: true\n  session_secret: short\n",
		"limit":         "history:\n  list_limit: 0\n",
		"max age":       "auth:\n  max_age: 0s\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFromFileAppliesEnvBeforeValidating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yml")
	if err := os.WriteFile(path, []byte("store:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvMongoURI, "")
	if _, err := config.FromFile(path); err == nil || !strings.Contains(err.Error(), "mongo_uri") {
		t.Fatalf("expected missing mongo uri error, got %v", err)
	}
	t.Setenv(config.EnvMongoURI, "mongodb://localhost:27017")
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Store.MongoURI != "mongodb://localhost:27017" {
		t.Fatalf("env not applied: %+v", cfg.Store)
	}
	if _, err := config.FromFile(filepath.Join(t.TempDir(), "missing.yml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadReadsEnvFileWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	env := "ALLOWED_USERS=bob:pw\nHISTORY_PASSCODE=from-file\n"
	if err := os.WriteFile(filepath.Join(dir, config.EnvFile), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvHistoryPasscode, "from-env")
	os.Unsetenv(config.EnvAllowedUsers)
	t.Cleanup(func() { os.Unsetenv(config.EnvAllowedUsers) })

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.AllowedUsers != "bob:pw" {
		t.Fatalf("expected users from .env, got %q", cfg.Auth.AllowedUsers)
	}
	if cfg.Auth.HistoryPasscode != "from-env" {
		t.Fatalf("real env must win, got %q", cfg.Auth.HistoryPasscode)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.AllowedUsers = "bob:pw, amy:secret"
	cfg.Auth.HistoryPasscode = "1234"
	out := cfg.Redacted()
	if strings.Contains(out.Auth.AllowedUsers, "pw") || out.Auth.HistoryPasscode != "******" {
		t.Fatalf("secrets leaked: %+v", out.Auth)
	}
	if out.Auth.AllowedUsers != "bob:******,amy:******" {
		t.Fatalf("unexpected redaction: %q", out.Auth.AllowedUsers)
	}
	if cfg.Auth.HistoryPasscode != "1234" {
		t.Fatalf("receiver mutated")
	}
}
