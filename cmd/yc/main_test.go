package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testYard writes a sqlite-backed config into a temp dir, initializes the
// database and returns the config path.
func testYard(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "yardcap.yaml")
	cfg := fmt.Sprintf(`
yard: test
database:
  driver: sqlite
  path: %s
log:
  level: error
nodes:
  - name: north
    tracks:
      - name: N1
        length: 100
      - name: N2
        length: 300
      - name: SIDING
`, filepath.Join(dir, "yard.db"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "db", "init", "-c", cfgPath); err != nil {
		t.Fatalf("db init: %v", err)
	}
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("yc %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "yc dev") {
		t.Errorf("version output = %q, want to contain %q", out, "yc dev")
	}
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	out := mustRun(t, "--help")
	for _, sub := range []string{"db", "track", "wagon", "movement", "restriction", "sweep", "serve"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help does not list %q", sub)
		}
	}
}

func TestDBInit(t *testing.T) {
	cfgPath := testYard(t)

	out := mustRun(t, "db", "init", "-c", cfgPath)
	if !strings.Contains(out, "Seeded 1 nodes, 3 tracks") {
		t.Errorf("re-running init output = %q", out)
	}

	out = mustRun(t, "track", "list", "-c", cfgPath)
	for _, want := range []string{"N1", "N2", "SIDING", "unlimited"} {
		if !strings.Contains(out, want) {
			t.Errorf("track list missing %q:\n%s", want, out)
		}
	}
}

func TestDBInit_MissingConfig(t *testing.T) {
	_, err := run(t, "db", "init", "-c", "/nonexistent/yardcap.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v, want load config error", err)
	}
}

func TestWagonAndMovementFlow(t *testing.T) {
	cfgPath := testYard(t)
	past := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)

	out := mustRun(t, "wagon", "add", "-c", cfgPath, "--number", "W1", "--length", "60", "--track", "N1", "--at", past)
	if !strings.Contains(out, "Placed wagon 1 on track N1") {
		t.Errorf("wagon add output = %q", out)
	}
	mustRun(t, "wagon", "add", "-c", cfgPath, "--number", "W2", "--length", "70")

	out = mustRun(t, "track", "occupants", "-c", cfgPath, "N1")
	if !strings.Contains(out, "W1") {
		t.Errorf("occupants = %q, want W1", out)
	}

	// W2 does not fit next to W1 on the 100 track.
	out, err := run(t, "movement", "validate", "-c", cfgPath, "--kind", "delivery", "--to", "N1", "--wagons", "2")
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "insufficient_capacity") {
		t.Errorf("validate output = %q", out)
	}

	out = mustRun(t, "movement", "create", "-c", cfgPath, "--kind", "internal", "--from", "N1", "--to", "N2", "--wagons", "1")
	if !strings.Contains(out, "Created movement 1") || !strings.Contains(out, "executed") {
		t.Errorf("create output = %q", out)
	}

	out = mustRun(t, "track", "occupancy", "-c", cfgPath, "N2")
	if !strings.Contains(out, "occupied:  60 (1 wagons)") {
		t.Errorf("occupancy output = %q", out)
	}

	out = mustRun(t, "movement", "list", "-c", cfgPath, "--track", "N2")
	if !strings.Contains(out, "internal") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, "wagon", "history", "-c", cfgPath, "1")
	if !strings.Contains(out, "initial") || !strings.Contains(out, "internal") {
		t.Errorf("history output = %q", out)
	}

	// Non-"yes" answer aborts.
	out = mustRun(t, "movement", "delete", "-c", cfgPath, "1")
	if !strings.Contains(out, "Aborted.") {
		t.Errorf("delete without confirmation output = %q", out)
	}

	out = mustRun(t, "movement", "delete", "-c", cfgPath, "1", "--yes")
	if !strings.Contains(out, "wagon 1: restored") {
		t.Errorf("delete output = %q", out)
	}
	out = mustRun(t, "wagon", "list", "-c", cfgPath, "--track", "N1")
	if !strings.Contains(out, "W1") {
		t.Errorf("wagon list after revert = %q, want W1 back on N1", out)
	}
}

func TestMovementCreate_NeedsAck(t *testing.T) {
	cfgPath := testYard(t)
	mustRun(t, "wagon", "add", "-c", cfgPath, "--length", "10")
	now := time.Now().UTC()
	mustRun(t, "restriction", "add", "-c", cfgPath,
		"--type", "no_entry", "--mode", "range", "--tracks", "N2", "--reason", "tamping",
		"--starts", now.Add(-time.Hour).Format(time.RFC3339),
		"--ends", now.Add(time.Hour).Format(time.RFC3339))

	out, err := run(t, "movement", "create", "-c", cfgPath, "--kind", "delivery", "--to", "N2", "--wagons", "1")
	if err == nil || !strings.Contains(err.Error(), "--ack") {
		t.Fatalf("err = %v, want hint about --ack", err)
	}
	if !strings.Contains(out, "restriction_active") {
		t.Errorf("output = %q, want restriction warning", out)
	}

	out = mustRun(t, "movement", "create", "-c", cfgPath, "--kind", "delivery", "--to", "N2", "--wagons", "1", "--ack")
	if !strings.Contains(out, "Created movement") {
		t.Errorf("output = %q", out)
	}
}

func TestRestrictionCommands(t *testing.T) {
	cfgPath := testYard(t)

	out := mustRun(t, "restriction", "add", "-c", cfgPath,
		"--type", "no_exit", "--mode", "permanent", "--tracks", "N1,N2")
	if !strings.Contains(out, "on 2 tracks") {
		t.Errorf("add output = %q", out)
	}

	out = mustRun(t, "restriction", "list", "-c", cfgPath, "--track", "N2")
	if !strings.Contains(out, "every day all day") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, "restriction", "active", "-c", cfgPath, "--kind", "departure", "--source", "N1")
	if !strings.Contains(out, "no_exit on N1") {
		t.Errorf("active output = %q", out)
	}
	out = mustRun(t, "restriction", "active", "-c", cfgPath, "--kind", "delivery", "--dest", "N1")
	if !strings.Contains(out, "No restrictions apply") {
		t.Errorf("active output = %q", out)
	}

	if _, err := run(t, "restriction", "add", "-c", cfgPath, "--type", "no_exit", "--mode", "daily", "--tracks", "N1",
		"--first-day", "2026-05-10", "--last-day", "2026-05-01"); err == nil {
		t.Error("expected error for inverted daily range")
	}

	mustRun(t, "restriction", "delete", "-c", cfgPath, "1")
	if _, err := run(t, "restriction", "delete", "-c", cfgPath, "1"); err == nil {
		t.Error("expected error deleting twice")
	}
}

func TestSweepCmd(t *testing.T) {
	cfgPath := testYard(t)
	out := mustRun(t, "sweep", "-c", cfgPath)
	if !strings.Contains(out, "Flipped 0 movements") {
		t.Errorf("sweep output = %q", out)
	}
}

func TestUnknownTrack(t *testing.T) {
	cfgPath := testYard(t)
	_, err := run(t, "track", "occupancy", "-c", cfgPath, "NOPE")
	if err == nil || !strings.Contains(err.Error(), "track not found") {
		t.Errorf("err = %v, want track not found", err)
	}
}
