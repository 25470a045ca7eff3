// Package ledger keeps a postgres record of conversion attempts.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Ledger records every conversion attempt and how often the same file was
// submitted.
type Ledger struct {
	db *sql.DB
}

// New creates a ledger and its table.
func New(ctx context.Context, db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}

	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger table: %w", err)
	}

	return l, nil
}

func (l *Ledger) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS conversion_ledger (
			token TEXT PRIMARY KEY,
			file_hash TEXT NOT NULL,
			filename TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			midi_path TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS conversion_ledger_file_hash ON conversion_ledger (file_hash);
	`

	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create conversion_ledger table: %w", err)
	}

	log.Printf("✓ conversion_ledger table ready")
	return nil
}

// Start records a new attempt and returns how many attempts, this one
// included, share its file hash.
func (l *Ledger) Start(ctx context.Context, token, fileHash, filename string) (int, error) {
	query := `
		INSERT INTO conversion_ledger (token, file_hash, filename, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (token) DO UPDATE
		SET status = EXCLUDED.status,
		    updated_at = NOW()
	`

	if _, err := l.db.ExecContext(ctx, query, token, fileHash, filename, StatusRunning); err != nil {
		return 0, fmt.Errorf("failed to record conversion start: %w", err)
	}

	return l.SeenCount(ctx, fileHash)
}

// Finish stores the outcome of an attempt.
func (l *Ledger) Finish(ctx context.Context, token, midiPath string, runErr error) error {
	status := StatusSucceeded
	var kind sql.NullString
	if runErr != nil {
		status = StatusFailed
		kind = sql.NullString{String: string(scoreerr.KindOf(runErr)), Valid: true}
	}

	query := `
		UPDATE conversion_ledger
		SET status = $2, error_kind = $3, midi_path = $4, updated_at = NOW()
		WHERE token = $1
	`

	res, err := l.db.ExecContext(ctx, query, token, status, kind, midiPath)
	if err != nil {
		return fmt.Errorf("failed to record conversion outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no ledger entry for %s", token)
	}
	return nil
}

// SeenCount returns how many attempts used a file with this hash.
func (l *Ledger) SeenCount(ctx context.Context, fileHash string) (int, error) {
	query := `SELECT COUNT(*) FROM conversion_ledger WHERE file_hash = $1`

	var seen int
	if err := l.db.QueryRowContext(ctx, query, fileHash).Scan(&seen); err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seen, nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
