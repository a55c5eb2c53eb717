package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/flysim/pkg/config"
	"github.com/openfroyo/flysim/pkg/stores"
)

// runCLI executes the root command. Building a new root command resets
// every flag variable to its default.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func simulateJSON(t *testing.T, args ...string) simReport {
	t.Helper()
	out, err := runCLI(t, append([]string{"simulate", "--json"}, args...)...)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	var rep simReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	return rep
}

func TestSimulateIsDeterministic(t *testing.T) {
	a := simulateJSON(t, "--seed", "42", "--days", "1", "--strategy", "careful")
	b := simulateJSON(t, "--seed", "42", "--days", "1", "--strategy", "careful")

	if a.Seed != 42 {
		t.Errorf("seed = %d, want 42", a.Seed)
	}
	if a.Ticks == 0 {
		t.Error("no ticks were simulated")
	}
	if a.Rating == "" {
		t.Error("finished game has no rating")
	}
	if a.SessionID == b.SessionID {
		t.Error("two runs shared a session ID")
	}

	a.SessionID, b.SessionID = "", ""
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if !bytes.Equal(aj, bj) {
		t.Errorf("same seed produced different games:\n%s\n%s", aj, bj)
	}
}

func TestSimulateIdleTakesNoActions(t *testing.T) {
	rep := simulateJSON(t, "--seed", "7", "--days", "1", "--strategy", "idle")
	if rep.Actions != 0 || len(rep.ActionCounts) != 0 {
		t.Errorf("idle autopilot acted: %+v", rep.ActionCounts)
	}
	if rep.Score.RiskyActions != 0 {
		t.Errorf("risky actions = %d, want 0", rep.Score.RiskyActions)
	}
}

func TestSimulateRejectsUnknownStrategy(t *testing.T) {
	_, err := runCLI(t, "simulate", "--strategy", "yolo")
	if err == nil || !strings.Contains(err.Error(), "unknown strategy") {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
}

func TestSimulateRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "flysim.db")
	rep := simulateJSON(t, "--seed", "3", "--days", "1", "--db", db)

	out, err := runCLI(t, "history", "--db", db, "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var sessions []stores.Session
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode sessions: %v\n%s", err, out)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != rep.SessionID {
		t.Errorf("session ID = %s, want %s", sessions[0].ID, rep.SessionID)
	}
	if sessions[0].Status != stores.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", sessions[0].Status)
	}

	out, err = runCLI(t, "history", "show", rep.SessionID, "--db", db, "--json")
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	var detail sessionDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("decode detail: %v\n%s", err, out)
	}
	if len(detail.Scores) == 0 {
		t.Error("no score samples recorded")
	}
	if len(detail.Incidents) != rep.Incidents {
		t.Errorf("recorded %d incidents, report says %d", len(detail.Incidents), rep.Incidents)
	}

	out, err = runCLI(t, "history", "show", rep.SessionID, "--db", db)
	if err != nil {
		t.Fatalf("history show (text): %v", err)
	}
	for _, want := range []string{"Session  " + rep.SessionID, "Incidents", "Scores"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "history", "show", "missing", "--db", db); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestHistoryRequiresDatabase(t *testing.T) {
	if _, err := runCLI(t, "history"); err == nil || !strings.Contains(err.Error(), "--db") {
		t.Fatalf("expected --db error, got %v", err)
	}
	if _, err := runCLI(t, "history", "checkpoints"); err == nil || !strings.Contains(err.Error(), "--checkpoints") {
		t.Fatalf("expected --checkpoints error, got %v", err)
	}
}

func TestHistoryCheckpointsEmpty(t *testing.T) {
	out, err := runCLI(t, "history", "checkpoints", "--checkpoints", t.TempDir())
	if err != nil {
		t.Fatalf("history checkpoints: %v", err)
	}
	if !strings.Contains(out, "No records found.") {
		t.Errorf("unexpected output: %q", out)
	}
}

const testDrill = `
inject(2, 10, "flyd_stalled")
inject(1, 50, "memory_leak", worker = "worker-1")
`

func TestDrillCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "storage.star", testDrill)

	out, err := runCLI(t, "drill", path, "--json")
	if err != nil {
		t.Fatalf("drill: %v", err)
	}
	var d config.Drill
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode drill: %v\n%s", err, out)
	}
	if len(d.Injections) != 2 {
		t.Fatalf("got %d injections, want 2", len(d.Injections))
	}
	if d.Injections[0].Type != "memory_leak" || d.Injections[1].Type != "flyd_stalled" {
		t.Errorf("injections not in firing order: %+v", d.Injections)
	}

	out, err = runCLI(t, "drill", path)
	if err != nil {
		t.Fatalf("drill (text): %v", err)
	}
	if !strings.Contains(out, "worker-1 (default)") {
		t.Errorf("default worker not shown:\n%s", out)
	}
}

func TestDrillTypes(t *testing.T) {
	out, err := runCLI(t, "drill", "--types")
	if err != nil {
		t.Fatalf("drill --types: %v", err)
	}
	for _, want := range []string{"flyd_stalled", "containerd_sync", "memory_leak"} {
		if !strings.Contains(out, want) {
			t.Errorf("type list missing %s", want)
		}
	}
	if _, err := runCLI(t, "drill"); err == nil {
		t.Error("expected error without a script")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "fast.yaml", "total_days: 2\ngame_speed: 2\n")
	bad := writeFile(t, dir, "bad.yaml", "total_days: -1\nbogus: true\n")
	drill := writeFile(t, dir, "late.star", `inject(3, 1, "flyd_stalled")`)

	out, err := runCLI(t, "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok    "+good) || !strings.Contains(out, "ok    incident catalog") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = runCLI(t, "validate", bad)
	if err == nil {
		t.Fatal("expected bad tuning to fail")
	}
	if !strings.Contains(out, "FAIL  "+bad) {
		t.Errorf("failure not reported:\n%s", out)
	}

	// Day 3 is past a two-day calendar.
	out, err = runCLI(t, "validate", good, "--drill", drill)
	if err == nil {
		t.Fatalf("expected drill past the calendar to fail:\n%s", out)
	}
	if !strings.Contains(out, "FAIL  "+drill) {
		t.Errorf("drill failure not reported:\n%s", out)
	}
}

func TestValidatePolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.rego", "package flysim.broken\n\ndeny[msg {\n")

	out, err := runCLI(t, "validate", "--policies", dir, "--json")
	if err == nil {
		t.Fatal("expected broken policy to fail")
	}
	var results []checkResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results: %v\n%s", err, out)
	}
	if len(results) != 2 || results[0].OK {
		t.Errorf("unexpected results: %+v", results)
	}
}
