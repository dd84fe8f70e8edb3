package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/BadgerOps/pqrefresh/internal/config"
)

// testEnv is a temporary workspace with a saved config listing two
// existing workbooks.
type testEnv struct {
	dir     string
	reports string
	cfgPath string
}

func setupTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		reports: filepath.Join(dir, "reports"),
		cfgPath: filepath.Join(dir, "pqrefresh.yaml"),
	}

	if err := os.MkdirAll(env.reports, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"sales.xlsx", "regions.xlsm"} {
		writeFile(t, filepath.Join(env.reports, name), "workbook")
	}

	cfg := config.DefaultConfig()
	cfg.SetPath(env.cfgPath)
	cfg.Backup.Dir = filepath.Join(dir, "backups")
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Store.DBPath = ""
	if withHistory {
		cfg.Store.DBPath = filepath.Join(dir, "data", "history.db")
	}
	cfg.AddFile(filepath.Join(env.reports, "sales.xlsx"), "")
	cfg.AddFile(filepath.Join(env.reports, "regions.xlsm"), "")
	if err := cfg.Save(); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	origCfg, origLogger, origFs := globalCfg, logger, appFs
	globalCfg = cfg
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	appFs = afero.NewOsFs()
	t.Cleanup(func() {
		closeGlobals()
		globalCfg, logger, appFs = origCfg, origLogger, origFs
		globalEngine, globalMetrics, globalValidator = nil, nil, nil
	})

	if err := initializeComponents(); err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	return env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func loadSaved(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("loading saved config: %v", err)
	}
	return cfg
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	defer func() {
		os.Stdout = orig
	}()

	fn()
	_ = w.Close()
	out := <-done
	_ = r.Close()
	return out
}
