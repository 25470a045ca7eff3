// Package runner assembles the score conversion service for embedding in
// other programs. It wires the recognizer, converter, notifiers and, when a
// database is configured, the durable DBOS queue.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/spewite/score-to-midi/internal/config"
	"github.com/spewite/score-to-midi/internal/conversion"
	"github.com/spewite/score-to-midi/internal/dbosruntime"
	"github.com/spewite/score-to-midi/internal/ledger"
	"github.com/spewite/score-to-midi/internal/metrics"
	"github.com/spewite/score-to-midi/internal/normalize"
	"github.com/spewite/score-to-midi/internal/notation"
	"github.com/spewite/score-to-midi/internal/notify"
	"github.com/spewite/score-to-midi/internal/omr"
	"github.com/spewite/score-to-midi/internal/storage"
	"github.com/spewite/score-to-midi/internal/workflows"
	"github.com/spewite/score-to-midi/internal/workspace"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

const appName = "score-to-midi"

// Archive owner and tenant for locally archived conversions
var (
	archiveOwnerID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	archiveTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// Options tunes New.
type Options struct {
	// Registerer receives the pipeline metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// NotifyTimeout bounds each notification. Zero selects notify.DefaultTimeout.
	NotifyTimeout time.Duration
}

// Runner provides a high-level API for converting scores, synchronously or via DBOS
type Runner struct {
	cfg        *config.Config
	runtime    *dbosruntime.Runtime
	runner     *workflows.WorkflowRunner
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	ledger     *ledger.Ledger
	kafka      *notify.KafkaNotifier
	cleanups   []func()
}

// New creates and initializes a runner from cfg. Without a database URL only
// synchronous conversions are available.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Roots.Ensure(); err != nil {
		return nil, err
	}
	if err := cfg.Roots.Validate(); err != nil {
		return nil, err
	}

	recognizer, err := omr.NewAudiveris(cfg.AudiverisPath, cfg.Roots.OMROutput, cfg.OMRTimeout)
	if err != nil {
		return nil, err
	}
	converter, err := notation.NewExecConverter(notation.Mode(cfg.ConverterMode), cfg.ConverterPath, cfg.ConverterScript, cfg.Roots.MIDI, cfg.ConvertTimeout)
	if err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg}

	normalizer := normalize.New()
	if cfg.MaxPixels > 0 {
		normalizer.MaxPixels = cfg.MaxPixels
	}

	pcfg := conversion.Config{
		Roots:      cfg.Roots,
		Normalizer: normalizer,
		Recognizer: recognizer,
		Converter:  converter,
	}
	if opts.Registerer != nil {
		r.metrics = metrics.New(opts.Registerer)
		pcfg.OnStage = r.metrics.OnStage
	}
	p, err := conversion.New(pcfg)
	if err != nil {
		return nil, err
	}

	notifiers, err := r.buildNotifiers()
	if err != nil {
		return nil, err
	}
	r.dispatcher = notify.NewDispatcher(opts.NotifyTimeout, notifiers...)

	wfOpts := []workflows.Option{workflows.WithDispatcher(r.dispatcher)}
	if r.metrics != nil {
		wfOpts = append(wfOpts, workflows.WithObserver(r.metrics))
	}

	if cfg.ContentStorageDir != "" {
		svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.ContentStorageDir))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize simple-content service: %w", err)
		}
		r.cleanups = append(r.cleanups, cleanup)
		wfOpts = append(wfOpts, workflows.WithArchiver(storage.NewArchive(svc, archiveOwnerID, archiveTenantID)))
		log.Printf("Archiving conversions to %s", cfg.ContentStorageDir)
	}

	if cfg.DatabaseURL != "" {
		r.runtime, err = dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL:        cfg.DatabaseURL,
			AppName:            appName,
			QueueName:          cfg.QueueName,
			Concurrency:        cfg.Concurrency,
			ApplicationVersion: cfg.ApplicationVersion,
		})
		if err != nil {
			r.close()
			return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
		}

		r.ledger, err = ledger.New(ctx, r.runtime.DB())
		if err != nil {
			// Conversions do not depend on the ledger.
			log.Printf("Conversion ledger disabled: %v", err)
			r.ledger = nil
		} else {
			wfOpts = append(wfOpts, workflows.WithRecorder(r.ledger))
		}
	}

	// Create workflow runner and register the conversion workflow
	r.runner = workflows.NewWorkflowRunner(r.runtime)
	r.runner.Register(pipeline.JobConvert, workflows.NewConversionWorkflow(p, wfOpts...))

	// Launch DBOS (must be after workflow registration)
	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			r.close()
			return nil, fmt.Errorf("failed to launch DBOS: %w", err)
		}
		log.Printf("DBOS launched: queue=%s concurrency=%d", r.runtime.QueueName(), r.runtime.Concurrency())
	}

	return r, nil
}

func (r *Runner) buildNotifiers() ([]notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.LogNotifier{}}

	if r.cfg.EmailEnabled() {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			Host:     r.cfg.SMTPHost,
			Port:     r.cfg.SMTPPort,
			Username: r.cfg.EmailUser,
			Password: r.cfg.EmailPass,
			To:       r.cfg.NotifyEmail,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, email)
	}

	if r.cfg.KafkaEnabled() {
		r.kafka = notify.NewKafkaNotifier(r.cfg.KafkaBroker, r.cfg.KafkaTopic)
		notifiers = append(notifiers, r.kafka)
	}

	return notifiers, nil
}

// Workflows returns the workflow runner, for serving over HTTP.
func (r *Runner) Workflows() *workflows.WorkflowRunner {
	return r.runner
}

// Metrics returns the pipeline metrics, or nil if disabled.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Ledger returns the conversion ledger, or nil without a database.
func (r *Runner) Ledger() *ledger.Ledger {
	return r.ledger
}

// Durable reports whether conversions can be enqueued.
func (r *Runner) Durable() bool {
	return r.runtime != nil
}

// Convert copies the score at path into the uploads root and converts it on
// the calling goroutine.
func (r *Runner) Convert(ctx context.Context, path string) (*workflows.WorkflowResult, error) {
	req, err := stageFile(r.cfg.Roots.Uploads, path)
	if err != nil {
		return nil, err
	}
	return r.runner.Run(&workflows.WorkflowContext{Ctx: ctx, Request: req, RunID: req.Token})
}

// Enqueue copies the score at path into the uploads root and enqueues its
// conversion. It returns the workflow ID.
func (r *Runner) Enqueue(ctx context.Context, path string) (string, error) {
	req, err := stageFile(r.cfg.Roots.Uploads, path)
	if err != nil {
		return "", err
	}
	return r.runner.RunAsync(ctx, req)
}

// Status returns the state of an enqueued conversion
func (r *Runner) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown waits for pending notifications and shuts down DBOS
func (r *Runner) Shutdown(timeout time.Duration) {
	r.dispatcher.Wait()
	if r.runtime != nil {
		if err := r.runtime.Shutdown(timeout); err != nil {
			log.Printf("DBOS shutdown: %v", err)
		}
	}
	r.close()
}

func (r *Runner) close() {
	if r.kafka != nil {
		if err := r.kafka.Close(); err != nil {
			log.Printf("Kafka writer close: %v", err)
		}
	}
	for _, cleanup := range r.cleanups {
		cleanup()
	}
	r.cleanups = nil
}

// stageFile copies a local score into uploads/{token} under a fresh token.
func stageFile(uploadsRoot, path string) (pipeline.ConvertRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.ConvertRequest{}, fmt.Errorf("failed to open score: %w", err)
	}
	defer f.Close()

	filename := workspace.SecureFilename(filepath.Base(path))
	if filename == "" {
		return pipeline.ConvertRequest{}, errors.New("score file name has no usable characters")
	}

	token := uuid.NewString()
	staged, err := workspace.Stage(f, uploadsRoot, token, filename)
	if err != nil {
		return pipeline.ConvertRequest{}, err
	}
	return pipeline.ConvertRequest{
		Token:      token,
		UploadPath: staged,
		Filename:   filename,
		Job:        pipeline.JobConvert,
	}, nil
}
