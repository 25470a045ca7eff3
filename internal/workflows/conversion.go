package workflows

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"github.com/spewite/score-to-midi/internal/conversion"
	"github.com/spewite/score-to-midi/internal/ledger"
	"github.com/spewite/score-to-midi/internal/notify"
	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/storage"
	"github.com/spewite/score-to-midi/internal/workspace"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

// PipelineRunner runs one conversion.
type PipelineRunner interface {
	Run(ctx context.Context, imagePath, token string) (conversion.Result, error)
}

// Observer receives every finished run.
type Observer interface {
	Observe(res conversion.Result, err error)
}

// Recorder keeps a durable record of attempts.
type Recorder interface {
	Start(ctx context.Context, token, fileHash, filename string) (int, error)
	Finish(ctx context.Context, token, midiPath string, runErr error) error
}

// Dispatcher delivers outcome events in the background.
type Dispatcher interface {
	Dispatch(ev notify.Event)
}

// Archiver copies finished conversions to long-term storage.
type Archiver interface {
	Store(ctx context.Context, art storage.Artifacts) (string, error)
}

// ConversionWorkflow runs the score pipeline for a staged upload and reports
// the outcome to the optional collaborators. None of them can change the
// outcome.
type ConversionWorkflow struct {
	pipeline   PipelineRunner
	observer   Observer
	recorder   Recorder
	dispatcher Dispatcher
	archiver   Archiver
}

// Option configures a ConversionWorkflow.
type Option func(*ConversionWorkflow)

// WithObserver reports runs to o.
func WithObserver(o Observer) Option { return func(w *ConversionWorkflow) { w.observer = o } }

// WithRecorder records attempts in rec.
func WithRecorder(rec Recorder) Option { return func(w *ConversionWorkflow) { w.recorder = rec } }

// WithDispatcher sends outcome events through d.
func WithDispatcher(d Dispatcher) Option { return func(w *ConversionWorkflow) { w.dispatcher = d } }

// WithArchiver archives successful conversions.
func WithArchiver(a Archiver) Option { return func(w *ConversionWorkflow) { w.archiver = a } }

// NewConversionWorkflow creates a conversion workflow
func NewConversionWorkflow(p PipelineRunner, opts ...Option) *ConversionWorkflow {
	w := &ConversionWorkflow{pipeline: p}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the workflow name
func (w *ConversionWorkflow) Name() string {
	return "ConversionWorkflow"
}

// Execute runs the conversion. The returned error is the pipeline's typed
// error, unchanged.
func (w *ConversionWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	req := wctx.Request
	ctx := wctx.Ctx
	log.Printf("[%s] Starting conversion workflow for token=%s file=%s", wctx.RunID, req.Token, req.Filename)

	if err := validateRequest(&req); err != nil {
		log.Printf("[%s] Validation failed: %v", wctx.RunID, err)
		return &WorkflowResult{Success: false, Error: err.Error()}, err
	}

	outputs := map[string]string{pipeline.OutputToken: req.Token}

	if w.recorder != nil {
		if seen, err := w.startRecord(ctx, req); err != nil {
			// The ledger is bookkeeping only.
			log.Printf("[%s] Failed to record attempt: %v", wctx.RunID, err)
		} else {
			outputs[pipeline.OutputSeenCount] = strconv.Itoa(seen)
			if seen > 1 {
				log.Printf("[%s] Same file submitted %d times", wctx.RunID, seen)
			}
		}
	}

	res, runErr := w.pipeline.Run(ctx, req.UploadPath, req.Token)

	if w.observer != nil {
		w.observer.Observe(res, runErr)
	}
	if w.recorder != nil {
		if err := w.recorder.Finish(ctx, req.Token, res.MIDIPath, runErr); err != nil {
			log.Printf("[%s] Failed to record outcome: %v", wctx.RunID, err)
		}
	}

	if runErr != nil {
		kind := scoreerr.KindOf(runErr)
		log.Printf("[%s] Conversion failed (%s): %v", wctx.RunID, kind, runErr)
		w.dispatch(notify.Failed(req.Token, req.Filename, req.UploadPath, runErr))
		return &WorkflowResult{
			Success: false,
			Kind:    string(kind),
			Error:   scoreerr.UserMessage(kind),
			Outputs: outputs,
		}, runErr
	}

	midiName := filepath.Base(res.MIDIPath)
	outputs[pipeline.OutputMIDIPath] = res.MIDIPath
	outputs[pipeline.OutputMIDIFilename] = midiName
	outputs[pipeline.OutputMXLPath] = res.MXLPath

	if w.archiver != nil {
		id, err := w.archiver.Store(ctx, storage.Artifacts{
			Token:      req.Token,
			UploadPath: req.UploadPath,
			MIMEType:   req.MIMEType,
			MXLPath:    res.MXLPath,
			MIDIPath:   res.MIDIPath,
		})
		if err != nil {
			log.Printf("[%s] Failed to archive conversion: %v", wctx.RunID, err)
		} else {
			outputs[pipeline.OutputArchiveID] = id
		}
	}

	w.dispatch(notify.Succeeded(req.Token, req.Filename, midiName, req.UploadPath))
	log.Printf("[%s] Conversion workflow completed: %s", wctx.RunID, res.MIDIPath)

	return &WorkflowResult{Success: true, Outputs: outputs}, nil
}

func (w *ConversionWorkflow) startRecord(ctx context.Context, req pipeline.ConvertRequest) (int, error) {
	hash, err := ledger.HashFile(req.UploadPath)
	if err != nil {
		return 0, err
	}
	return w.recorder.Start(ctx, req.Token, hash, req.Filename)
}

func (w *ConversionWorkflow) dispatch(ev notify.Event) {
	if w.dispatcher != nil {
		w.dispatcher.Dispatch(ev)
	}
}

func validateRequest(req *pipeline.ConvertRequest) error {
	if err := workspace.ValidateToken(req.Token); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.UploadPath == "" {
		return fmt.Errorf("%w: upload_path is required", ErrInvalidRequest)
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.UploadPath)
	}
	return nil
}
