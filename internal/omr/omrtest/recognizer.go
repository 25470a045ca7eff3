// Package omrtest provides a canned Recognizer for tests that run without the engine.
package omrtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spewite/score-to-midi/internal/omr"
	"github.com/spewite/score-to-midi/internal/workspace"
)

// Recognizer returns fixed output and optionally writes a structured score.
type Recognizer struct {
	OutputRoot string
	Output     string
	ExitCode   int
	Err        error

	// Artifact, when non-empty, is written as {stem}.mxl in the output dir.
	Artifact []byte

	mu    sync.Mutex
	calls []string
}

// Recognize implements omr.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, imagePath, token string) (omr.Recognition, error) {
	r.mu.Lock()
	r.calls = append(r.calls, imagePath)
	r.mu.Unlock()

	if r.Err != nil {
		return omr.Recognition{}, r.Err
	}

	dir, err := workspace.Allocate(r.OutputRoot, token)
	if err != nil {
		return omr.Recognition{}, err
	}
	if len(r.Artifact) > 0 {
		if err := os.WriteFile(omr.ArtifactPath(dir, workspace.Stem(imagePath)), r.Artifact, 0o644); err != nil {
			return omr.Recognition{}, err
		}
	}
	return omr.Recognition{Output: r.Output, ExitCode: r.ExitCode, OutputDir: dir}, nil
}

// Calls returns the image paths passed to Recognize.
func (r *Recognizer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// LastExtension returns the extension of the most recent image, lowercased.
func (r *Recognizer) LastExtension() string {
	calls := r.Calls()
	if len(calls) == 0 {
		return ""
	}
	return strings.ToLower(filepath.Ext(calls[len(calls)-1]))
}
