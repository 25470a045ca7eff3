package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

// Roots holds the storage roots a conversion writes under. Each request owns
// exactly one directory per root, named by its token.
type Roots struct {
	Uploads   string
	MXL       string
	MIDI      string
	OMROutput string
}

// All returns every configured root.
func (r Roots) All() []string {
	return []string{r.Uploads, r.MXL, r.MIDI, r.OMROutput}
}

// Validate checks that every root exists, is a directory and is writable.
func (r Roots) Validate() error {
	for _, root := range r.All() {
		if err := checkRoot(root); err != nil {
			return err
		}
		if err := checkWritable(root); err != nil {
			return err
		}
	}
	return nil
}

// Ensure creates any missing root. Used at startup before Validate.
func (r Roots) Ensure() error {
	for _, root := range r.All() {
		if root == "" {
			return fmt.Errorf("%w: empty storage root", scoreerr.ErrConfiguration)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("%w: failed to create root %s: %v", scoreerr.ErrConfiguration, root, err)
		}
	}
	return nil
}

// Path returns root/token without touching the filesystem.
func Path(root, token string) string {
	return filepath.Join(root, token)
}

// Allocate creates root/token if absent and returns its absolute path.
// The root itself must already exist; Allocate never deletes anything.
func Allocate(root, token string) (string, error) {
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	if err := checkRoot(root); err != nil {
		return "", err
	}

	dir, err := filepath.Abs(Path(root, token))
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create workspace %s: %v", scoreerr.ErrConfiguration, dir, err)
	}
	return dir, nil
}

// ValidateToken rejects tokens that could escape their root.
func ValidateToken(token string) error {
	if token == "" {
		return fmt.Errorf("empty request token")
	}
	if token == "." || token == ".." || strings.ContainsAny(token, `/\`) || strings.Contains(token, "..") {
		return fmt.Errorf("invalid request token %q", token)
	}
	return nil
}

// Stage writes an uploaded file into uploads/token and returns its path.
func Stage(src io.Reader, uploadsRoot, token, filename string) (string, error) {
	name := SecureFilename(filename)
	if name == "" {
		return "", fmt.Errorf("invalid filename %q", filename)
	}

	dir, err := Allocate(uploadsRoot, token)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

// CopyFile copies src to dst, replacing dst if present.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces a client supplied name to a safe flat file name.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

func checkRoot(root string) error {
	if root == "" {
		return fmt.Errorf("%w: empty storage root", scoreerr.ErrConfiguration)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: storage root %s: %v", scoreerr.ErrConfiguration, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: storage root %s is not a directory", scoreerr.ErrConfiguration, root)
	}
	return nil
}

func checkWritable(root string) error {
	tmp, err := os.CreateTemp(root, ".writable-*")
	if err != nil {
		return fmt.Errorf("%w: storage root %s is not writable: %v", scoreerr.ErrConfiguration, root, err)
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return nil
}
