package omr

import (
	"fmt"
	"strings"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const stageClassifying = "classifying"

// Signature is a known failure fragment in engine output.
type Signature struct {
	Name      string
	Substring string
	Kind      error
}

// Signatures are checked in order and the first match wins, so the most
// severe fault comes first. The engine's wording is not a stable contract;
// unmatched failure output should be logged so new entries can be added.
var Signatures = []Signature{
	{Name: "structure", Substring: "java.lang.NullPointerException", Kind: scoreerr.ErrScoreStructure},
	{Name: "quality", Substring: "picture resolution is too low", Kind: scoreerr.ErrScoreQuality},
	{Name: "too_large", Substring: "Too large image", Kind: scoreerr.ErrScoreTooLarge},
}

// Classify scans engine output for known failure signatures. It returns nil
// when none is present.
func Classify(output string) error {
	for _, sig := range Signatures {
		if strings.Contains(output, sig.Substring) {
			return &scoreerr.StageError{
				Stage:  stageClassifying,
				Kind:   sig.Kind,
				Output: output,
				Err:    fmt.Errorf("engine output matched %s signature %q", sig.Name, sig.Substring),
			}
		}
	}
	return nil
}
