package notation

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spewite/score-to-midi/internal/process"
	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const partwise = `<?xml version="1.0"?><score-partwise version="4.0"><part-list/></score-partwise>`

// fakeRunner simulates command execution.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (process.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (process.Result, error) {
	return f.run(ctx, name, args...)
}

func newTestConverter(t *testing.T, mode Mode, runner process.Runner) (*ExecConverter, string) {
	t.Helper()
	root := t.TempDir()
	exe := filepath.Join(root, "bin", "tool")
	mustWriteFile(t, exe, "#!/bin/sh\n")
	script := filepath.Join(root, "scripts", "mxl_to_midi.py")
	mustWriteFile(t, script, "")
	midiRoot := filepath.Join(root, "midi")
	if err := os.MkdirAll(midiRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	c, err := NewExecConverter(mode, exe, script, midiRoot, time.Minute)
	if err != nil {
		t.Fatalf("NewExecConverter() error = %v", err)
	}
	c.runner = runner
	return c, midiRoot
}

func TestNewExecConverterConfiguration(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "mscore")
	mustWriteFile(t, exe, "")

	tests := []struct {
		name   string
		mode   Mode
		path   string
		script string
	}{
		{"unknown mode", Mode("lilypond"), exe, ""},
		{"missing tool", ModeMuseScore, filepath.Join(dir, "absent"), ""},
		{"bare name not on PATH", ModeMuseScore, "mscore-that-does-not-exist", ""},
		{"empty tool", ModeMuseScore, "", ""},
		{"music21 without script", ModeMusic21, exe, ""},
		{"music21 missing script", ModeMusic21, exe, filepath.Join(dir, "absent.py")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExecConverter(tt.mode, tt.path, tt.script, dir, 0)
			if !errors.Is(err, scoreerr.ErrConfiguration) {
				t.Fatalf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNewExecConverterResolvesBareName(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	c, err := NewExecConverter(ModeMuseScore, "sh", "", t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewExecConverter() error = %v", err)
	}
	if !filepath.IsAbs(c.path) {
		t.Fatalf("path = %q, want the resolved absolute path", c.path)
	}
}

func TestConvertMuseScoreArgsAndOutputName(t *testing.T) {
	var gotArgs []string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		gotArgs = args
		return process.Result{}, nil
	}}
	c, midiRoot := newTestConverter(t, ModeMuseScore, runner)

	in := filepath.Join(t.TempDir(), "page.xml")
	mustWriteFile(t, in, partwise)

	out, err := c.Convert(context.Background(), in, "tok")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want, _ := filepath.Abs(filepath.Join(midiRoot, "tok", "page.midi"))
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "-o" || gotArgs[1] != want || gotArgs[2] != in {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestConvertMusic21Args(t *testing.T) {
	var gotName string
	var gotArgs []string
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		gotName, gotArgs = name, args
		return process.Result{}, nil
	}}
	c, _ := newTestConverter(t, ModeMusic21, runner)

	in := filepath.Join(t.TempDir(), "page.xml")
	mustWriteFile(t, in, partwise)

	out, err := c.Convert(context.Background(), in, "tok")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if gotName != c.path {
		t.Fatalf("command = %q, want interpreter %q", gotName, c.path)
	}
	if len(gotArgs) != 3 || gotArgs[0] != c.script || gotArgs[1] != in || gotArgs[2] != out {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestConvertMissingInput(t *testing.T) {
	c, _ := newTestConverter(t, ModeMuseScore, &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		t.Fatal("runner should not be called")
		return process.Result{}, nil
	}})

	_, err := c.Convert(context.Background(), filepath.Join(t.TempDir(), "absent.mxl"), "tok")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestConvertRejectsMalformedScore(t *testing.T) {
	c, midiRoot := newTestConverter(t, ModeMuseScore, &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		t.Fatal("runner should not be called")
		return process.Result{}, nil
	}})

	in := filepath.Join(t.TempDir(), "score.mxl")
	mustWriteFile(t, in, "garbage")

	_, err := c.Convert(context.Background(), in, "tok")
	if !errors.Is(err, scoreerr.ErrNotationParse) {
		t.Fatalf("error = %v, want ErrNotationParse", err)
	}
	if _, statErr := os.Stat(filepath.Join(midiRoot, "tok")); !os.IsNotExist(statErr) {
		t.Fatal("midi workspace should not be created for a malformed score")
	}
}

func TestConvertToolRejection(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		return process.Result{Output: "music21.converter.ConverterException", ExitCode: 1}, nil
	}}
	c, _ := newTestConverter(t, ModeMusic21, runner)

	in := filepath.Join(t.TempDir(), "page.xml")
	mustWriteFile(t, in, partwise)

	_, err := c.Convert(context.Background(), in, "tok")
	if !errors.Is(err, scoreerr.ErrNotationParse) {
		t.Fatalf("error = %v, want ErrNotationParse", err)
	}
	var se *scoreerr.StageError
	if !errors.As(err, &se) || se.ExitCode != 1 || se.Output == "" {
		t.Fatalf("expected StageError with process output, got %#v", err)
	}
}

func TestConvertSignalledToolIsUnclassified(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		return process.Result{Output: "Segmentation fault", ExitCode: -1}, nil
	}}
	c, _ := newTestConverter(t, ModeMuseScore, runner)

	in := filepath.Join(t.TempDir(), "page.xml")
	mustWriteFile(t, in, partwise)

	_, err := c.Convert(context.Background(), in, "tok")
	if !errors.Is(err, scoreerr.ErrUnclassified) || errors.Is(err, scoreerr.ErrNotationParse) {
		t.Fatalf("error = %v, want ErrUnclassified only", err)
	}
	var se *scoreerr.StageError
	if !errors.As(err, &se) || se.ExitCode != -1 || se.Stage != stageConverting {
		t.Fatalf("expected converting StageError with exit -1, got %#v", err)
	}
}

func TestConvertTimeout(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		<-ctx.Done()
		return process.Result{ExitCode: -1}, ctx.Err()
	}}
	c, _ := newTestConverter(t, ModeMuseScore, runner)
	c.timeout = 20 * time.Millisecond

	in := filepath.Join(t.TempDir(), "page.xml")
	mustWriteFile(t, in, partwise)

	_, err := c.Convert(context.Background(), in, "tok")
	if scoreerr.KindOf(err) != scoreerr.KindUnclassified {
		t.Fatalf("kind = %s, want unclassified", scoreerr.KindOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline in chain", err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}
