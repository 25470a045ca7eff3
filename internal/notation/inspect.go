package notation

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const (
	stageInspecting = "inspecting"
	containerPath   = "META-INF/container.xml"
)

// Manifest describes a structured score file.
type Manifest struct {
	Path       string
	Compressed bool
	// RootFile is the score document inside a compressed container.
	RootFile string
	// Root is the score document's root element.
	Root string
}

type container struct {
	RootFiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

// Inspect checks that path holds MusicXML, either a compressed .mxl container
// or a plain .xml/.musicxml document. Any structural problem is reported as
// ErrNotationParse.
func Inspect(p string) (Manifest, error) {
	if _, err := os.Stat(p); err != nil {
		return Manifest{}, err
	}

	m := Manifest{Path: p}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".xml", ".musicxml":
		f, err := os.Open(p)
		if err != nil {
			return m, err
		}
		defer f.Close()
		root, err := rootElement(f)
		if err != nil {
			return m, parseError(p, err)
		}
		m.Root = root
	default:
		m.Compressed = true
		if err := inspectContainer(p, &m); err != nil {
			return m, parseError(p, err)
		}
	}

	if m.Root != "score-partwise" && m.Root != "score-timewise" {
		return m, parseError(p, fmt.Errorf("unexpected root element <%s>", m.Root))
	}
	return m, nil
}

func inspectContainer(p string, m *Manifest) error {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	if cf, ok := files[containerPath]; ok {
		var c container
		if err := decodeZipXML(cf, &c); err != nil {
			return fmt.Errorf("failed to read %s: %w", containerPath, err)
		}
		if len(c.RootFiles) == 0 || c.RootFiles[0].FullPath == "" {
			return errors.New("container lists no rootfile")
		}
		m.RootFile = c.RootFiles[0].FullPath
	} else {
		// Some exporters omit the container; take the first top-level score document.
		for _, f := range zr.File {
			ext := strings.ToLower(path.Ext(f.Name))
			if !strings.Contains(f.Name, "/") && (ext == ".xml" || ext == ".musicxml") {
				m.RootFile = f.Name
				break
			}
		}
		if m.RootFile == "" {
			return errors.New("no container manifest and no score document")
		}
	}

	rf, ok := files[m.RootFile]
	if !ok {
		return fmt.Errorf("rootfile %s missing from container", m.RootFile)
	}
	r, err := rf.Open()
	if err != nil {
		return fmt.Errorf("failed to open rootfile: %w", err)
	}
	defer r.Close()

	root, err := rootElement(r)
	if err != nil {
		return err
	}
	m.Root = root
	return nil
}

func decodeZipXML(f *zip.File, v any) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	return xml.NewDecoder(r).Decode(v)
}

// rootElement returns the local name of the first element in r.
func rootElement(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	// MusicXML documents carry a DOCTYPE and are usually UTF-8; accept any
	// declared charset as-is.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("document has no root element")
			}
			return "", fmt.Errorf("malformed xml: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func parseError(p string, err error) error {
	return scoreerr.New(stageInspecting, scoreerr.ErrNotationParse,
		fmt.Errorf("%s: %w", filepath.Base(p), err))
}
