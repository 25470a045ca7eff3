package handlers

import (
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spewite/score-to-midi/internal/storage"
	"github.com/spewite/score-to-midi/internal/validation"
	"github.com/spewite/score-to-midi/internal/workflows"
	"github.com/spewite/score-to-midi/internal/workspace"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

const maxMemory = 32 << 20

var midiExtensions = []string{".mid", ".midi"}

// staged is an upload that passed validation and was written to uploads/token.
type staged struct {
	token  string
	path   string
	upload validation.Upload
}

// receive validates the multipart "file" field and stages it under a fresh
// token. It writes the error response itself and reports whether to go on.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) (staged, bool) {
	limit := h.limits.MaxBytes
	if limit <= 0 {
		limit = validation.DefaultMaxBytes
	}
	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("File size exceeds maximum allowed size (%dMB)", limit/1024/1024))
			return staged{}, false
		}
		writeError(w, http.StatusBadRequest, noFileMessage)
		return staged{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, noFileMessage)
		return staged{}, false
	}
	defer file.Close()

	if workspace.SecureFilename(header.Filename) == "" {
		writeError(w, http.StatusBadRequest, noFileMessage)
		return staged{}, false
	}

	up, err := validation.Validate(header.Filename, file, header.Size, h.limits)
	if err != nil {
		if errors.Is(err, validation.ErrInvalidUpload) {
			log.Printf("File validation failed: %v", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return staged{}, false
		}
		log.Printf("Failed to validate upload: %v", err)
		writeError(w, http.StatusInternalServerError, "There has been an unexpected error in the conversion. Please, try again.")
		return staged{}, false
	}

	token := uuid.NewString()
	path, err := workspace.Stage(file, h.roots.Uploads, token, up.Filename)
	if err != nil {
		log.Printf("[%s] Failed to stage upload: %v", token, err)
		writeError(w, http.StatusInternalServerError, "There has been an unexpected error in the conversion. Please, try again.")
		return staged{}, false
	}
	log.Printf("[%s] File saved: %s", token, path)

	return staged{token: token, path: path, upload: up}, true
}

// HandleUpload handles POST /api/upload - converts the score before responding
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)

	s, ok := h.receive(w, r)
	if !ok {
		return
	}

	res, err := h.runner.Run(&workflows.WorkflowContext{
		Ctx: r.Context(),
		Request: pipeline.ConvertRequest{
			Token:      s.token,
			UploadPath: s.path,
			Filename:   s.upload.Filename,
			MIMEType:   s.upload.MIME,
			Job:        pipeline.JobConvert,
		},
		RunID: s.token,
	})
	if err != nil {
		writeConversionError(w, err)
		return
	}

	base := baseURL(r)
	resp := pipeline.UploadResponse{
		FileUUID:         s.token,
		MIDIURL:          fmt.Sprintf("%s/api/download/%s", base, s.token),
		ScoreURL:         fmt.Sprintf("%s/api/score/%s", base, s.token),
		OriginalFilename: s.upload.Filename,
		MIDIFilename:     res.Outputs[pipeline.OutputMIDIFilename],
	}
	log.Printf("[%s] Conversion ready: %s", s.token, resp.MIDIURL)

	writeJSON(w, http.StatusOK, resp)
}

// HandleDownloadMIDI handles GET /api/download/{uuid}
func (h *Handler) HandleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	h.serveFirst(w, r, h.midi, midiExtensions, "MIDI file not found.")
}

// HandleDownloadScore handles GET /api/score/{uuid}
func (h *Handler) HandleDownloadScore(w http.ResponseWriter, r *http.Request) {
	h.serveFirst(w, r, h.uploads, validation.Extensions(), "Score file not found.")
}

// serveFirst sends the first matching file under the token's directory as an
// attachment.
func (h *Handler) serveFirst(w http.ResponseWriter, r *http.Request, store *storage.FilesystemStorage, exts []string, notFound string) {
	token := chi.URLParam(r, "uuid")
	if err := workspace.ValidateToken(token); err != nil {
		writeError(w, http.StatusNotFound, notFound)
		return
	}

	key, err := store.FindFirst(token, exts...)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[%s] Failed to look up download: %v", token, err)
		}
		writeError(w, http.StatusNotFound, notFound)
		return
	}

	path, err := store.Path(key)
	if err != nil {
		writeError(w, http.StatusNotFound, notFound)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if meta, err := store.GetMetadata(r.Context(), key); err == nil && meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	http.ServeFile(w, r, path)
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}
