package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contribledger/internal/blob"
	"contribledger/internal/config"
	"contribledger/internal/core"
	"contribledger/internal/logging"
)

const walletMonky = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Storage:             core.StorageConfig{Driver: core.StorageMemory},
		BlobDriver:          blob.DriverMemory,
		Deadline:            time.Now().Add(time.Hour),
		FallbackCap:         core.DefaultFallbackCap,
		MinimumContribution: core.DefaultMinimumContribution,
		QueueWindow:         core.DefaultQueueWindow,
		ListenAddr:          "127.0.0.1:0",
		LogLevel:            "error",
		Metrics:             config.MetricsPrometheus,
	}
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{Level: "error", Stdout: io.Discard, Stderr: io.Discard})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return logger
}

func TestRunRejectsBadConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), func() (config.Config, error) {
		return config.Config{}, errors.New("boom")
	}, &stderr)
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("expected error on stderr, got %q", stderr.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code := run(ctx, func() (config.Config, error) { return memoryConfig(t), nil }, io.Discard)
	if code != 0 {
		t.Fatalf("expected clean exit, got %d", code)
	}
}

func TestAssembleServesRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allocations.json")
	table := `[{"handle":"monky_king","wallet_address":"` + walletMonky + `","cap":10}]`
	if err := os.WriteFile(path, []byte(table), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	cfg := memoryConfig(t)
	cfg.AllocationsFile = path

	app, err := assemble(context.Background(), cfg, quietLogger(t))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer app.close()

	for _, route := range []string{"/healthz", "/v1/window", "/metrics", "/v1/ledgers/monky_king?wallet=" + walletMonky} {
		rec := httptest.NewRecorder()
		app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, route, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", route, rec.Code)
		}
	}
	v, err := app.svc.VerifyIdentity(context.Background(), "monky_king", walletMonky)
	if err != nil || v.Cap != 10 {
		t.Fatalf("expected allocation table to be wired, got %+v %v", v, err)
	}
}

func TestAssembleFailsOnMissingAllocationFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.AllocationsFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := assemble(context.Background(), cfg, quietLogger(t)); err == nil {
		t.Fatalf("expected error for missing allocation table")
	}
}

func TestAssembleWritesTraceFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.TraceFile = filepath.Join(t.TempDir(), "trace.jsonl")

	app, err := assemble(context.Background(), cfg, quietLogger(t))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ledgers/stranger?wallet="+walletMonky, nil))
	app.close()

	data, err := os.ReadFile(cfg.TraceFile)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(string(data), `"operation":"load_ledger"`) {
		t.Fatalf("expected a load_ledger span, got %q", data)
	}
}

func TestAssembleFailsOnUnwritableTraceFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.TraceFile = filepath.Join(t.TempDir(), "missing", "trace.jsonl")
	if _, err := assemble(context.Background(), cfg, quietLogger(t)); err == nil {
		t.Fatalf("expected error for unwritable trace file")
	}
}
