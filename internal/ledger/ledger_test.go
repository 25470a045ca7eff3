package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/spewite/score-to-midi/internal/scoreerr"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversion_ledger").WillReturnResult(sqlmock.NewResult(0, 0))
	l, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, mock
}

func TestStartReturnsSeenCount(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectExec("INSERT INTO conversion_ledger").
		WithArgs("tok", "abc", "score.png", StatusRunning).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM conversion_ledger").
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	seen, err := l.Start(context.Background(), "tok", "abc", "score.png")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if seen != 3 {
		t.Fatalf("seen = %d, want 3", seen)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinishStoresKind(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectExec("UPDATE conversion_ledger").
		WithArgs("tok", StatusFailed, string(scoreerr.KindStructure), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.Finish(context.Background(), "tok", "", scoreerr.New("classifying", scoreerr.ErrScoreStructure, nil))
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFinishUnknownToken(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectExec("UPDATE conversion_ledger").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := l.Finish(context.Background(), "missing", "/midi/x.midi", nil); err == nil {
		t.Fatal("expected error for an unknown token")
	}
}

func TestNewPropagatesSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	if _, err := New(context.Background(), db); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestHashFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(p, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("HashFile() = %s", got)
	}
}
