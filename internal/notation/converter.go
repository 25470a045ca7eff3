package notation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spewite/score-to-midi/internal/process"
	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/workspace"
)

const stageConverting = "converting"

// MIDIExt is the extension of every generated MIDI file.
const MIDIExt = ".midi"

// DefaultTimeout bounds one conversion run.
const DefaultTimeout = 2 * time.Minute

// Mode selects the external score library.
type Mode string

const (
	ModeMuseScore Mode = "musescore"
	ModeMusic21   Mode = "music21"
)

// Converter serializes a structured score as MIDI under the token's MIDI
// directory and returns the output path. Callers must verify the file exists.
type Converter interface {
	Convert(ctx context.Context, mxlPath, token string) (string, error)
}

// ExecConverter drives MuseScore or a music21 script as a child process.
type ExecConverter struct {
	mode     Mode
	path     string
	script   string
	midiRoot string
	timeout  time.Duration
	runner   process.Runner
}

// NewExecConverter checks the tool is installed. For ModeMusic21 path is the
// Python interpreter and script the conversion script.
func NewExecConverter(mode Mode, path, script, midiRoot string, timeout time.Duration) (*ExecConverter, error) {
	switch mode {
	case ModeMuseScore:
	case ModeMusic21:
		if script == "" {
			return nil, fmt.Errorf("%w: music21 mode needs a conversion script", scoreerr.ErrConfiguration)
		}
		if _, err := os.Stat(script); err != nil {
			return nil, fmt.Errorf("%w: conversion script not found at %s: %v", scoreerr.ErrConfiguration, script, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown converter mode %q", scoreerr.ErrConfiguration, mode)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: converter path is not configured", scoreerr.ErrConfiguration)
	}
	resolved, err := process.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: converter not found at %s: %v", scoreerr.ErrConfiguration, path, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecConverter{
		mode:     mode,
		path:     resolved,
		script:   script,
		midiRoot: midiRoot,
		timeout:  timeout,
		runner:   process.Exec{},
	}, nil
}

// Args returns the command line converting in to out.
func (c *ExecConverter) Args(in, out string) []string {
	if c.mode == ModeMusic21 {
		return []string{c.script, in, out}
	}
	return []string{"-o", out, in}
}

// OutputPath returns where the MIDI for mxlPath is written.
func OutputPath(midiDir, mxlPath string) string {
	return filepath.Join(midiDir, workspace.Stem(mxlPath)+MIDIExt)
}

// Convert implements Converter.
func (c *ExecConverter) Convert(ctx context.Context, mxlPath, token string) (string, error) {
	if _, err := os.Stat(mxlPath); err != nil {
		return "", scoreerr.New(stageConverting, scoreerr.ErrUnclassified,
			fmt.Errorf("failed to open structured score: %w", err))
	}

	manifest, err := Inspect(mxlPath)
	if err != nil {
		return "", err
	}
	log.Printf("[%s] Parsed %s (root %s)", token, filepath.Base(mxlPath), manifest.Root)

	dir, err := workspace.Allocate(c.midiRoot, token)
	if err != nil {
		return "", scoreerr.New(stageConverting, scoreerr.ErrConfiguration, err)
	}
	out := OutputPath(dir, mxlPath)

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := c.Args(mxlPath, out)
	log.Printf("[%s] Running %s converter: %s %v", token, c.mode, c.path, args)
	result, err := c.runner.Run(runCtx, c.path, args...)
	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("no result after %s: %w", c.timeout, err)
		} else {
			err = fmt.Errorf("failed to run %s converter: %w", c.mode, err)
		}
		return "", &scoreerr.StageError{
			Stage:    stageConverting,
			Kind:     scoreerr.ErrUnclassified,
			Output:   result.Output,
			ExitCode: result.ExitCode,
			Err:      err,
		}
	}
	if result.ExitCode < 0 {
		return "", &scoreerr.StageError{
			Stage:    stageConverting,
			Kind:     scoreerr.ErrUnclassified,
			Output:   result.Output,
			ExitCode: result.ExitCode,
			Err:      fmt.Errorf("%s converter terminated abnormally", c.mode),
		}
	}
	if result.ExitCode != 0 {
		return "", &scoreerr.StageError{
			Stage:    stageConverting,
			Kind:     scoreerr.ErrNotationParse,
			Output:   result.Output,
			ExitCode: result.ExitCode,
			Err:      fmt.Errorf("%s converter rejected %s", c.mode, filepath.Base(mxlPath)),
		}
	}

	log.Printf("[%s] MIDI written to %s", token, out)
	return out, nil
}
