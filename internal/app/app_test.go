package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskboard/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewLoadsWorkspaceConfig(t *testing.T) {
	workspace := t.TempDir()
	writeFile(t, filepath.Join(workspace, config.FileName), "history:\n  list_limit: 50\n")
	t.Setenv(config.EnvAllowedUsers, "bob:pw")

	var logs bytes.Buffer
	a, err := New(context.Background(), workspace, log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if a.Engine.HistoryLimit() != 50 {
		t.Fatalf("expected list limit from file, got %d", a.Engine.HistoryLimit())
	}
	if a.Engine.Credentials.Len() != 1 {
		t.Fatalf("expected one user from env, got %d", a.Engine.Credentials.Len())
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected warnings: %s", logs.String())
	}
}

func TestNewWarnsWithoutUsers(t *testing.T) {
	t.Setenv(config.EnvAllowedUsers, "")
	var logs bytes.Buffer
	a, err := New(context.Background(), t.TempDir(), log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if !bytes.Contains(logs.Bytes(), []byte("no users configured")) {
		t.Fatalf("expected warning, got %q", logs.String())
	}
}

func TestSchemaStatus(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	cfg := config.Default()

	s, err := SchemaStatus(ctx, workspace, cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Version != 0 || s.Latest == 0 {
		t.Fatalf("expected unmigrated workspace, got %+v", s)
	}
	if _, err := os.Stat(filepath.Join(workspace, ".taskboard")); !os.IsNotExist(err) {
		t.Fatalf("status must not create the database")
	}

	store, err := OpenStore(ctx, workspace, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.Close()
	if s, err = SchemaStatus(ctx, workspace, cfg); err != nil || s.Version != s.Latest {
		t.Fatalf("expected migrated workspace, got %+v (%v)", s, err)
	}

	cfg.Store.Driver = config.DriverMongo
	if s, err = SchemaStatus(ctx, workspace, cfg); err != nil || s.Driver != config.DriverMongo || s.Latest != 0 {
		t.Fatalf("mongo carries no schema version, got %+v (%v)", s, err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "postgres"
	if _, err := OpenStore(context.Background(), t.TempDir(), cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.AllowedUsers = "bob:pw"
	a, err := FromConfig(context.Background(), t.TempDir(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, addr) }()

	var res *http.Response
	for i := 0; i < 50; i++ {
		res, err = http.Get("http://" + addr + "/api/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
