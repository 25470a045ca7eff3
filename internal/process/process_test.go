package process

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecCapturesInterleavedOutput(t *testing.T) {
	requireShell(t)

	res, err := Exec{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Fatalf("output = %q, want both streams", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestExecNonzeroExit(t *testing.T) {
	requireShell(t)

	res, err := Exec{}.Run(context.Background(), "sh", "-c", "echo failing; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for a nonzero exit", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestExecDeadline(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Exec{}.Run(ctx, "sh", "-c", "sleep 5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestExecMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), "/nonexistent/score-tool")
	if err == nil {
		t.Fatal("expected error for a missing binary")
	}
}

func TestResolveBareNameOnPath(t *testing.T) {
	requireShell(t)

	got, err := Resolve("sh")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("Resolve() = %q, want an absolute path", got)
	}
}

func TestResolveRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"bare name not on PATH", "score-tool-that-does-not-exist"},
		{"missing file", filepath.Join(dir, "absent")},
		{"directory", dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(tt.path); err == nil {
				t.Fatalf("Resolve(%q) succeeded", tt.path)
			}
		})
	}
}
