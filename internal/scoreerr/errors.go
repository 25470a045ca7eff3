// Package scoreerr defines the failure kinds a score conversion can end in.
//
// Every pipeline stage returns one of the sentinel kinds below, usually wrapped
// in a *StageError carrying the stage name and any captured process output.
// Callers test kinds with errors.Is and never need to parse messages.
package scoreerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the conversion failure kinds
var (
	// ErrScoreQuality is returned when recognition asks for a higher scan resolution
	ErrScoreQuality = errors.New("score image quality too low")

	// ErrScoreStructure is returned when recognition hits an internal fault on the page layout
	ErrScoreStructure = errors.New("score structure could not be recognized")

	// ErrScoreTooLarge is returned when recognition rejects an oversized image
	ErrScoreTooLarge = errors.New("score image too large")

	// ErrRecognitionTimeout is returned when the recognition process exceeds its deadline
	ErrRecognitionTimeout = errors.New("score recognition timed out")

	// ErrMissingArtifact is returned when recognition passed but produced no structured score
	ErrMissingArtifact = errors.New("expected structured score artifact is missing")

	// ErrMIDINotFound is returned when conversion reported success but no MIDI file exists
	ErrMIDINotFound = errors.New("generated MIDI file not found")

	// ErrNotationParse is returned when the recognized score is rejected as invalid notation
	ErrNotationParse = errors.New("structured score could not be parsed")

	// ErrConfiguration is returned for missing executables or unusable storage roots
	ErrConfiguration = errors.New("pipeline configuration error")

	// ErrUnclassified covers any other failure
	ErrUnclassified = errors.New("unclassified conversion failure")
)

// Kind is the stable name of a failure kind, used in logs, metrics and events.
type Kind string

const (
	KindNone               Kind = ""
	KindQuality            Kind = "score_quality"
	KindStructure          Kind = "score_structure"
	KindTooLarge           Kind = "score_too_large"
	KindRecognitionTimeout Kind = "recognition_timeout"
	KindMissingArtifact    Kind = "missing_artifact"
	KindMIDINotFound       Kind = "midi_not_found"
	KindNotationParse      Kind = "notation_parse"
	KindConfiguration      Kind = "configuration"
	KindUnclassified       Kind = "unclassified"
)

// kinds is checked in order by KindOf.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrScoreStructure, KindStructure},
	{ErrScoreQuality, KindQuality},
	{ErrScoreTooLarge, KindTooLarge},
	{ErrRecognitionTimeout, KindRecognitionTimeout},
	{ErrMissingArtifact, KindMissingArtifact},
	{ErrMIDINotFound, KindMIDINotFound},
	{ErrNotationParse, KindNotationParse},
	{ErrConfiguration, KindConfiguration},
}

// KindOf maps an error to its failure kind. Nil maps to KindNone and any error
// outside the taxonomy maps to KindUnclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnclassified
}

// KindFromText recovers the kind from an error message that was persisted as
// text, such as a durable workflow's recorded error.
func KindFromText(msg string) Kind {
	if msg == "" {
		return KindNone
	}
	for _, k := range kinds {
		if strings.Contains(msg, k.err.Error()) {
			return k.kind
		}
	}
	return KindUnclassified
}

// IsFatal reports whether err is a configuration problem rather than a
// per-request failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// UserMessage returns the message shown to the uploader for a kind.
func UserMessage(kind Kind) string {
	switch kind {
	case KindNone:
		return ""
	case KindQuality:
		return "Could not read the score. Please, upload the image with higher quality."
	case KindStructure:
		return "Could not parse the score. Please, check if the structure of the score is correct."
	case KindTooLarge:
		return "The uploaded image was too large. Please, upload a smaller image."
	case KindRecognitionTimeout:
		return "Reading the score took too long. Please, try again with a simpler or smaller image."
	case KindMIDINotFound:
		return "The server could not find the generated MIDI. Please, try again."
	case KindMissingArtifact:
		return "The score could not be recognized. Please, try again with a clearer image."
	case KindNotationParse:
		return "The recognized score is not valid notation. Please, try again with a clearer image."
	case KindConfiguration:
		return "The conversion service is temporarily unavailable. Please, try again later."
	default:
		return "There has been an unexpected error in the conversion. Please, try again."
	}
}

// StageError is a stage-aware failure with optional process context.
type StageError struct {
	Stage    string
	Kind     error
	Output   string
	ExitCode int
	Err      error
}

// New builds a StageError of the given kind.
func New(stage string, kind error, cause error) *StageError {
	return &StageError{
		Stage: stage,
		Kind:  kind,
		Err:   cause,
	}
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	kind := e.Kind
	if kind == nil {
		kind = ErrUnclassified
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Stage, kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StageOf returns the stage recorded on the first StageError in err's chain.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
