package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calder-labs/engram/internal/config"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	defer rootCmd.SetArgs(nil)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func testDesignPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "design.json")
}

func TestInitCreatesDesign(t *testing.T) {
	path := testDesignPath(t)

	if err := execute(t, "--design", path, "init", "support bot"); err != nil {
		t.Fatalf("init: %v", err)
	}

	d, err := config.LoadDesign(path)
	if err != nil {
		t.Fatalf("LoadDesign: %v", err)
	}
	if d.Name != "support bot" || d.ID == "" {
		t.Errorf("design = %+v", d)
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := testDesignPath(t)
	if err := os.WriteFile(path, []byte(`{"name":"existing"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	err := execute(t, "--design", path, "init", "other")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want already-exists error", err)
	}
}

func TestIngestMissingFlags(t *testing.T) {
	path := testDesignPath(t)
	if err := execute(t, "--design", path, "init", "n"); err != nil {
		t.Fatalf("init: %v", err)
	}

	err := execute(t, "--design", path, "ingest")
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("err = %v, want missing-flag error", err)
	}
}

func TestIngestThenRecordsAndPrune(t *testing.T) {
	// Point the provider at a closed port so embedding degrades fast
	// instead of waiting on a real backend.
	t.Setenv("ENGRAM_PROVIDER_URL", "http://127.0.0.1:1")
	t.Setenv("ENGRAM_PROVIDER_TIMEOUT", "1s")

	path := testDesignPath(t)
	if err := execute(t, "--design", path, "init", "cli test"); err != nil {
		t.Fatalf("init: %v", err)
	}

	err := execute(t, "--design", path, "ingest",
		"--id", "prefs", "--text", "I prefer Go for backend services and SQLite for local storage.")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := execute(t, "--design", path, "query", "what storage do I prefer?"); err != nil {
		t.Fatalf("query: %v", err)
	}

	if err := execute(t, "--design", path, "records", "list"); err != nil {
		t.Fatalf("records list: %v", err)
	}

	// Retention is disabled by default; prune is a warned no-op.
	if err := execute(t, "--design", path, "prune"); err != nil {
		t.Fatalf("prune: %v", err)
	}
}

func TestQueryWithoutDesignFile(t *testing.T) {
	path := testDesignPath(t)
	if err := execute(t, "--design", path, "query", "anything"); err == nil {
		t.Fatal("expected error for missing design file")
	}
}

func TestRecordsDeleteUnknownID(t *testing.T) {
	path := testDesignPath(t)
	if err := execute(t, "--design", path, "init", "n"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := execute(t, "--design", path, "records", "delete", "missing"); err != nil {
		t.Fatalf("delete should warn, not fail: %v", err)
	}
}
