// Package process runs external tools with their stdout and stderr
// interleaved into one captured buffer.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 5 * time.Second

// Result is the captured outcome of one process run.
type Result struct {
	Output   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Resolve returns the absolute path of an executable. A bare name is looked
// up on PATH; anything containing a separator must exist as given.
func Resolve(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty executable name")
	}
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.ContainsRune(name, '/') {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", err
		}
		return filepath.Abs(path)
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	return filepath.Abs(name)
}

// Exec executes commands via os/exec.
type Exec struct{}

// Run starts name and waits for it. A nonzero exit is reported through
// ExitCode with a nil error; an error means the process could not start or
// was killed because ctx ended.
func (Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	result := Result{Output: output.String()}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		if ctx.Err() == nil {
			return result, nil
		}
		return result, ctx.Err()
	}
	return result, err
}
