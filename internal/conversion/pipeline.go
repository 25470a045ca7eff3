// Package conversion sequences the stages that turn a score image into MIDI.
//
// A run is strictly linear: Normalizing, Recognizing, Classifying,
// Relocating, Converting, Verifying. The first failure ends the run and is
// returned unchanged so callers can test its kind with errors.Is. Nothing is
// retried; a new attempt is a new token.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spewite/score-to-midi/internal/normalize"
	"github.com/spewite/score-to-midi/internal/notation"
	"github.com/spewite/score-to-midi/internal/omr"
	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/workspace"
)

// State is a pipeline position.
type State string

const (
	StateNormalizing State = "normalizing"
	StateRecognizing State = "recognizing"
	StateClassifying State = "classifying"
	StateRelocating  State = "relocating"
	StateConverting  State = "converting"
	StateVerifying   State = "verifying"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Normalizer turns any accepted upload into an image the recognizer reads.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// Config wires a Pipeline. Recognizer and Converter are required.
type Config struct {
	Roots      workspace.Roots
	Normalizer Normalizer
	Recognizer omr.Recognizer
	Converter  notation.Converter

	// OnStage is called on every state change, including StateDone and StateFailed.
	OnStage func(token string, state State)
}

// StageTiming records how long one state took.
type StageTiming struct {
	State    State
	Duration time.Duration
}

// Result describes a run. On failure it holds whatever was produced before
// the failing stage.
type Result struct {
	Token     string
	ImagePath string
	MXLPath   string
	MIDIPath  string
	Tracks    int
	Stages    []StageTiming
}

// Pipeline runs conversions. It holds no per-run state and is safe for
// concurrent use as long as each run has its own token.
type Pipeline struct {
	cfg Config
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("%w: no recognizer configured", scoreerr.ErrConfiguration)
	}
	if cfg.Converter == nil {
		return nil, fmt.Errorf("%w: no converter configured", scoreerr.ErrConfiguration)
	}
	if cfg.Roots.MXL == "" {
		return nil, fmt.Errorf("%w: no structured score root configured", scoreerr.ErrConfiguration)
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New()
	}
	return &Pipeline{cfg: cfg}, nil
}

// run tracks the state and timings of one conversion.
type run struct {
	p      *Pipeline
	token  string
	result Result
	state  State
	start  time.Time
}

func (r *run) enter(state State) {
	r.finish()
	r.state = state
	r.start = time.Now()
	r.p.notify(r.token, state)
}

func (r *run) finish() {
	if r.state == "" {
		return
	}
	r.result.Stages = append(r.result.Stages, StageTiming{State: r.state, Duration: time.Since(r.start)})
}

func (r *run) fail(err error) (Result, error) {
	started := r.state != ""
	r.finish()
	log.Printf("[%s] Conversion failed in %s (%s): %v", r.token, r.state, scoreerr.KindOf(err), err)
	r.state = StateFailed
	// A run rejected before its first stage never reported a start.
	if started {
		r.p.notify(r.token, StateFailed)
	}
	return r.result, err
}

func (p *Pipeline) notify(token string, state State) {
	if p.cfg.OnStage != nil {
		p.cfg.OnStage(token, state)
	}
}

// Run converts the score at imagePath and returns the verified MIDI path in
// Result.MIDIPath.
func (p *Pipeline) Run(ctx context.Context, imagePath, token string) (Result, error) {
	r := &run{p: p, token: token, result: Result{Token: token}}
	if err := workspace.ValidateToken(token); err != nil {
		return r.fail(err)
	}
	log.Printf("[%s] Starting conversion for %s", token, imagePath)

	r.enter(StateNormalizing)
	image, err := p.cfg.Normalizer.Normalize(ctx, imagePath)
	if err != nil {
		return r.fail(err)
	}
	r.result.ImagePath = image

	r.enter(StateRecognizing)
	rec, err := p.cfg.Recognizer.Recognize(ctx, image, token)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateClassifying)
	if err := omr.Classify(rec.Output); err != nil {
		return r.fail(err)
	}
	if rec.ExitCode != 0 {
		// Unknown failure text; kept verbatim so new signatures can be added.
		log.Printf("[%s] Unrecognized engine output (exit %d):\n%s", token, rec.ExitCode, rec.Output)
	}

	r.enter(StateRelocating)
	mxl, err := notation.Relocate(rec.OutputDir, workspace.Stem(image), p.cfg.Roots.MXL, token)
	if err != nil {
		return r.fail(err)
	}
	r.result.MXLPath = mxl

	r.enter(StateConverting)
	midi, err := p.cfg.Converter.Convert(ctx, mxl, token)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateVerifying)
	if midi == "" {
		return r.fail(scoreerr.New(string(StateVerifying), scoreerr.ErrMIDINotFound,
			errors.New("converter returned no path")))
	}
	tracks, err := notation.VerifyMIDI(midi)
	if err != nil {
		return r.fail(err)
	}
	r.result.MIDIPath = midi
	r.result.Tracks = tracks

	r.enter(StateDone)
	log.Printf("[%s] Conversion finished: %s (%d tracks)", token, midi, tracks)
	return r.result, nil
}
