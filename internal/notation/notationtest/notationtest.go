// Package notationtest provides converter doubles and score fixtures.
package notationtest

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/spewite/score-to-midi/internal/notation"
	"github.com/spewite/score-to-midi/internal/workspace"
)

// PartwiseXML is a minimal one-note MusicXML document.
const PartwiseXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">
<score-partwise version="4.0">
  <part-list><score-part id="P1"><part-name>Piano</part-name></score-part></part-list>
  <part id="P1"><measure number="1"><note><pitch><step>C</step><octave>4</octave></pitch><duration>4</duration><type>whole</type></note></measure></part>
</score-partwise>
`

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container><rootfiles><rootfile full-path="score.xml" media-type="application/vnd.recordare.musicxml+xml"/></rootfiles></container>
`

// MXL returns a compressed MusicXML container holding PartwiseXML.
func MXL() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range []struct{ name, body string }{
		{"META-INF/container.xml", containerXML},
		{"score.xml", PartwiseXML},
	} {
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(entry.body)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMIDI writes a one-track, one-note Standard MIDI File to path.
func WriteMIDI(path string) error {
	s := smf.New()
	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName("Piano"))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(960, midi.NoteOff(0, 60))
	tr.Close(0)
	if err := s.Add(tr); err != nil {
		return err
	}
	return s.WriteFile(path)
}

// Converter writes a MIDI file into MIDIRoot/{token} without running any tool.
type Converter struct {
	MIDIRoot string
	// SkipWrite reports success without creating the file.
	SkipWrite bool
	// Empty writes a zero-length file instead of MIDI.
	Empty bool
	Err   error

	mu    sync.Mutex
	calls []string
}

// Convert implements notation.Converter.
func (c *Converter) Convert(ctx context.Context, mxlPath, token string) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, mxlPath)
	c.mu.Unlock()

	if c.Err != nil {
		return "", c.Err
	}
	dir, err := workspace.Allocate(c.MIDIRoot, token)
	if err != nil {
		return "", err
	}
	out := notation.OutputPath(dir, mxlPath)
	switch {
	case c.SkipWrite:
	case c.Empty:
		err = os.WriteFile(out, nil, 0o644)
	default:
		err = WriteMIDI(out)
	}
	return out, err
}

// Calls returns the structured score paths Convert was invoked with.
func (c *Converter) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// WriteMXL writes the fixture container to dir/name.
func WriteMXL(dir, name string) (string, error) {
	data, err := MXL()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	return p, os.WriteFile(p, data, 0o644)
}
