package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/spewite/score-to-midi/internal/dbosruntime"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ConvertRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution. It is persisted
// by DBOS, so it only holds plain values.
type WorkflowResult struct {
	Success bool
	Kind    string
	Error   string
	Outputs map[string]string
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
}

// NewWorkflowRunner creates a workflow runner. With a nil runtime only the
// synchronous Run is available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

func (r *WorkflowRunner) lookup(req pipeline.ConvertRequest) (Workflow, error) {
	job := req.Job
	if job == "" {
		job = pipeline.JobConvert
	}
	workflow, ok := r.workflows[job]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, job)
	}
	return workflow, nil
}

// Run executes a workflow on the calling goroutine.
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, err := r.lookup(wctx.Request)
	if err != nil {
		return &WorkflowResult{Success: false, Error: err.Error()}, err
	}

	return workflow.Execute(wctx)
}

// WorkflowID is the durable workflow ID for a conversion token. Enqueuing the
// same token twice yields the same workflow.
func WorkflowID(req pipeline.ConvertRequest) string {
	job := req.Job
	if job == "" {
		job = pipeline.JobConvert
	}
	return fmt.Sprintf("%s-%s", job, req.Token)
}

// TokenFromWorkflowID returns the conversion token of a workflow ID built by
// WorkflowID, or "" if id has another form.
func TokenFromWorkflowID(id string) string {
	token, ok := strings.CutPrefix(id, pipeline.JobConvert+"-")
	if !ok {
		return ""
	}
	return token
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ConvertRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", ErrNoRuntime
	}
	if req.Token == "" || req.UploadPath == "" {
		return "", fmt.Errorf("%w: token and upload_path are required", ErrInvalidRequest)
	}
	if _, err := r.lookup(req); err != nil {
		return "", err
	}

	handle, err := dbos.RunWorkflow[pipeline.ConvertRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(WorkflowID(req)),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue workflow: %w", err)
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ConvertRequest) (*WorkflowResult, error) {
	workflow, err := r.lookup(req)
	if err != nil {
		return &WorkflowResult{Success: false, Error: err.Error()}, err
	}

	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{Success: false, Error: err.Error()}, err
	}

	// DBOSContext implements context.Context
	wctx := &WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	}

	return workflow.Execute(wctx)
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID string
	State string // one of the pipeline.State* values
	Error string
}

// GetStatus retrieves the status of a workflow execution
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, ErrNoRuntime
	}

	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if err != nil {
		if errors.Is(err, dbosruntime.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, runID)
		}
		return nil, err
	}

	return &WorkflowStatus{
		RunID: info.WorkflowUUID,
		State: StateFromDBOS(info.Status),
		Error: info.Error,
	}, nil
}

// StateFromDBOS maps a dbos.workflow_status value to a run state.
func StateFromDBOS(status string) string {
	switch status {
	case "SUCCESS":
		return pipeline.StateSucceeded
	case "ERROR", "CANCELLED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED", "RETRIES_EXCEEDED":
		return pipeline.StateFailed
	case "PENDING":
		return pipeline.StateRunning
	default:
		return pipeline.StatePending
	}
}
