package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// Derivation types stored against an archived upload.
const (
	DerivedTypeMXL  = "mxl"
	DerivedTypeMIDI = "midi"
)

// derivedVersion is bumped when the conversion output format changes.
const derivedVersion = 1

// Archive keeps uploads and their conversion outputs in a simple-content
// service so they survive cleanup of the working roots.
type Archive struct {
	service  simplecontent.Service
	ownerID  uuid.UUID
	tenantID uuid.UUID
}

// NewArchive stores content on behalf of owner and tenant.
func NewArchive(service simplecontent.Service, ownerID, tenantID uuid.UUID) *Archive {
	return &Archive{
		service:  service,
		ownerID:  ownerID,
		tenantID: tenantID,
	}
}

// Artifacts are the files of one finished conversion.
type Artifacts struct {
	Token      string
	UploadPath string
	MIMEType   string
	MXLPath    string
	MIDIPath   string
}

// Store uploads the original score and attaches the structured score and
// MIDI as derived content. It returns the archived content ID.
func (a *Archive) Store(ctx context.Context, art Artifacts) (string, error) {
	upload, err := os.Open(art.UploadPath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer upload.Close()

	name := filepath.Base(art.UploadPath)
	content, err := a.service.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:      a.ownerID,
		TenantID:     a.tenantID,
		Name:         name,
		DocumentType: art.MIMEType,
		Reader:       upload,
		FileName:     name,
		Tags:         []string{"score", art.Token},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload content: %w", err)
	}
	log.Printf("[%s] Archived upload as content %s", art.Token, content.ID)

	for derivedType, path := range map[string]string{
		DerivedTypeMXL:  art.MXLPath,
		DerivedTypeMIDI: art.MIDIPath,
	} {
		if path == "" {
			continue
		}
		if _, err := a.putDerived(ctx, content.ID, derivedType, path); err != nil {
			return content.ID.String(), err
		}
	}

	return content.ID.String(), nil
}

func (a *Archive) putDerived(ctx context.Context, parentID uuid.UUID, derivedType, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s output: %w", derivedType, err)
	}
	defer f.Close()

	// Create variant name from type and version
	variant := fmt.Sprintf("%s_v%d", derivedType, derivedVersion)

	derived, err := a.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: derivedType,
		Variant:        variant,
		Reader:         f,
		FileName:       filepath.Base(path),
		Tags:           []string{derivedType, variant},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}

	return derived.ID.String(), nil
}

// HasDerived reports whether contentID already has output of derivedType.
func (a *Archive) HasDerived(ctx context.Context, contentID, derivedType string) (bool, error) {
	parentID, err := uuid.Parse(contentID)
	if err != nil {
		return false, fmt.Errorf("invalid content ID: %w", err)
	}

	derived, err := a.service.ListDerivedContent(ctx,
		simplecontent.WithParentID(parentID),
		simplecontent.WithDerivationType(derivedType),
	)
	if err != nil {
		return false, fmt.Errorf("failed to list derived content: %w", err)
	}

	for _, d := range derived {
		if d.DerivationType == derivedType {
			return true, nil
		}
	}

	return false, nil
}

// Download returns the archived upload for contentID.
func (a *Archive) Download(ctx context.Context, contentID string) (io.ReadCloser, error) {
	id, err := uuid.Parse(contentID)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}

	reader, err := a.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}

	return reader, nil
}
