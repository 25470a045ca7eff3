package notation

import (
	"fmt"
	"os"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const stageVerifying = "verifying"

// VerifyMIDI checks that path is a readable, non-empty Standard MIDI File and
// returns its track count. Every failure is ErrMIDINotFound.
func VerifyMIDI(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, scoreerr.New(stageVerifying, scoreerr.ErrMIDINotFound, err)
	}
	if info.IsDir() {
		return 0, scoreerr.New(stageVerifying, scoreerr.ErrMIDINotFound, fmt.Errorf("%s is a directory", path))
	}
	if info.Size() == 0 {
		return 0, scoreerr.New(stageVerifying, scoreerr.ErrMIDINotFound, fmt.Errorf("%s is empty", path))
	}

	s, err := smf.ReadFile(path)
	if err != nil {
		return 0, scoreerr.New(stageVerifying, scoreerr.ErrMIDINotFound,
			fmt.Errorf("failed to read MIDI: %w", err))
	}
	return len(s.Tracks), nil
}
