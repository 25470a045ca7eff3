package storage

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
)

func TestArchiveStoresUploadAndDerivedOutputs(t *testing.T) {
	svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(t.TempDir()))
	if err != nil {
		t.Fatalf("simple-content: %v", err)
	}
	defer cleanup()

	dir := t.TempDir()
	upload := filepath.Join(dir, "score.png")
	mxl := filepath.Join(dir, "score.mxl")
	midi := filepath.Join(dir, "score.midi")
	writeFile(t, upload, "png")
	writeFile(t, mxl, "mxl")
	writeFile(t, midi, "MThd")

	a := NewArchive(svc, uuid.New(), uuid.New())
	ctx := context.Background()

	id, err := a.Store(ctx, Artifacts{Token: "tok", UploadPath: upload, MIMEType: "image/png", MXLPath: mxl, MIDIPath: midi})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	for _, typ := range []string{DerivedTypeMXL, DerivedTypeMIDI} {
		ok, err := a.HasDerived(ctx, id, typ)
		if err != nil || !ok {
			t.Fatalf("HasDerived(%s) = %v, %v", typ, ok, err)
		}
	}

	r, err := a.Download(ctx, id)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "png" {
		t.Fatalf("downloaded %q", data)
	}
}

func TestArchiveRejectsBadContentID(t *testing.T) {
	a := NewArchive(nil, uuid.New(), uuid.New())
	if _, err := a.HasDerived(context.Background(), "not-a-uuid", DerivedTypeMIDI); err == nil {
		t.Fatal("expected invalid content ID error")
	}
}
