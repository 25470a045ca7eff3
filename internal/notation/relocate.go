// Package notation moves recognized scores into their canonical location and
// turns them into MIDI through an external score library.
package notation

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spewite/score-to-midi/internal/omr"
	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/workspace"
)

const stageRelocating = "relocating"

// Relocate copies {engineDir}/{stem}.mxl into mxlRoot/{token} and returns the
// canonical path. A missing artifact means recognition passed the classifier
// without exporting anything.
func Relocate(engineDir, stem, mxlRoot, token string) (string, error) {
	src := omr.ArtifactPath(engineDir, stem)
	name := filepath.Base(src)

	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", scoreerr.New(stageRelocating, scoreerr.ErrMissingArtifact,
				fmt.Errorf("no %s in %s", name, engineDir))
		}
		return "", scoreerr.New(stageRelocating, scoreerr.ErrUnclassified, err)
	}
	if info.IsDir() {
		return "", scoreerr.New(stageRelocating, scoreerr.ErrMissingArtifact,
			fmt.Errorf("%s is a directory", src))
	}

	dir, err := workspace.Allocate(mxlRoot, token)
	if err != nil {
		return "", scoreerr.New(stageRelocating, scoreerr.ErrConfiguration, err)
	}

	dst := filepath.Join(dir, name)
	if err := workspace.CopyFile(src, dst); err != nil {
		return "", scoreerr.New(stageRelocating, scoreerr.ErrUnclassified,
			fmt.Errorf("failed to copy structured score: %w", err))
	}

	log.Printf("[%s] Structured score relocated to %s", token, dst)
	return dst, nil
}
