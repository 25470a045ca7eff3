package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spewite/score-to-midi/internal/config"
	"github.com/spewite/score-to-midi/internal/dbosruntime"
	"github.com/spewite/score-to-midi/internal/workflows"
)

// Client provides a client-only API for enqueuing conversions without executing them.
// Workers must be running separately, sharing the uploads root with the client.
type Client struct {
	uploadsRoot string
	runtime     *dbosruntime.Runtime
	runner      *workflows.WorkflowRunner
}

// NewClient creates a client that can enqueue conversions but does not run them
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg.Roots.Uploads == "" {
		return nil, errors.New("uploads root is required")
	}

	// Create DBOS runtime
	dbosRuntime, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            appName,
		QueueName:          cfg.QueueName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	// Create workflow runner (for enqueueing only, no workflows registered)
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)

	// Launch DBOS (client mode)
	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Client{
		uploadsRoot: cfg.Roots.Uploads,
		runtime:     dbosRuntime,
		runner:      workflowRunner,
	}, nil
}

// Enqueue stages the score at path and enqueues its conversion for workers to execute
func (c *Client) Enqueue(ctx context.Context, path string) (string, error) {
	req, err := stageFile(c.uploadsRoot, path)
	if err != nil {
		return "", err
	}
	return c.runner.RunAsync(ctx, req)
}

// Status returns the state of an enqueued conversion
func (c *Client) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return c.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the client
func (c *Client) Shutdown(timeout time.Duration) {
	if c.runtime != nil {
		c.runtime.Shutdown(timeout)
	}
}
