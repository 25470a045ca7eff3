// Package omr bridges the pipeline to the external optical music recognition
// engine and interprets what the engine prints.
package omr

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

const stageRecognizing = "recognizing"

// DefaultTimeout bounds one recognition run.
const DefaultTimeout = 5 * time.Minute

// Recognition is the raw outcome of one engine run. A zero ExitCode does not
// mean success; callers must Classify the Output.
type Recognition struct {
	Output    string
	ExitCode  int
	OutputDir string
	Duration  time.Duration
}

// Recognizer turns a score image into structured notation inside OutputDir.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath, token string) (Recognition, error)
}

// Audiveris runs the Audiveris command line in batch export mode.
type Audiveris struct {
	path       string
	outputRoot string
	timeout    time.Duration
	runner     process.Runner
}

// NewAudiveris checks the executable exists and returns a recognizer writing
// under outputRoot/{token}. A zero timeout selects DefaultTimeout.
func NewAudiveris(path, outputRoot string, timeout time.Duration) (*Audiveris, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: audiveris path is not configured", scoreerr.ErrConfiguration)
	}
	resolved, err := process.Resolve(path)
	if err != nil {
		return nil, fmt.Errorf("%w: audiveris path not found at %s: %v", scoreerr.ErrConfiguration, path, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Audiveris{
		path:       resolved,
		outputRoot: outputRoot,
		timeout:    timeout,
		runner:     process.Exec{},
	}, nil
}

// Args returns the engine command line for one image.
func Args(outputDir, imagePath string) []string {
	return []string{"-batch", "-export", "-output", outputDir, "--", imagePath}
}

// Recognize runs the engine on imagePath and captures its combined output.
func (a *Audiveris) Recognize(ctx context.Context, imagePath, token string) (Recognition, error) {
	// The executable can disappear after startup; that is still a configuration fault.
	if _, err := os.Stat(a.path); err != nil {
		return Recognition{}, scoreerr.New(stageRecognizing, scoreerr.ErrConfiguration,
			fmt.Errorf("audiveris path not found at %s: %w", a.path, err))
	}

	outputDir, err := workspace.Allocate(a.outputRoot, token)
	if err != nil {
		return Recognition{}, scoreerr.New(stageRecognizing, scoreerr.ErrConfiguration, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := Args(outputDir, imagePath)
	log.Printf("[%s] Running audiveris: %s %v", token, a.path, args)

	start := time.Now()
	result, err := a.runner.Run(runCtx, a.path, args...)
	rec := Recognition{
		Output:    result.Output,
		ExitCode:  result.ExitCode,
		OutputDir: outputDir,
		Duration:  time.Since(start),
	}

	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return rec, &scoreerr.StageError{
				Stage:    stageRecognizing,
				Kind:     scoreerr.ErrRecognitionTimeout,
				Output:   rec.Output,
				ExitCode: rec.ExitCode,
				Err:      fmt.Errorf("no result after %s", a.timeout),
			}
		}
		return rec, &scoreerr.StageError{
			Stage:    stageRecognizing,
			Kind:     scoreerr.ErrUnclassified,
			Output:   rec.Output,
			ExitCode: rec.ExitCode,
			Err:      fmt.Errorf("failed to run audiveris: %w", err),
		}
	}

	if rec.ExitCode != 0 {
		log.Printf("[%s] Audiveris exited with code %d after %s", token, rec.ExitCode, rec.Duration.Round(time.Millisecond))
	} else {
		log.Printf("[%s] Audiveris finished in %s", token, rec.Duration.Round(time.Millisecond))
	}
	return rec, nil
}

// ArtifactPath returns where the engine writes the structured score for an
// image with the given stem.
func ArtifactPath(outputDir, stem string) string {
	return filepath.Join(outputDir, stem+".mxl")
}
