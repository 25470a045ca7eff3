// Package handlers exposes the conversion service over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/storage"
	"github.com/spewite/score-to-midi/internal/validation"
	"github.com/spewite/score-to-midi/internal/workflows"
	"github.com/spewite/score-to-midi/internal/workspace"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

const noFileMessage = "No file found in the request. Please, try again."

// Runner runs conversion workflows. *workflows.WorkflowRunner implements it.
type Runner interface {
	Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error)
	RunAsync(ctx context.Context, req pipeline.ConvertRequest) (string, error)
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
}

// SeenCounter reports how often a file hash was submitted before.
type SeenCounter interface {
	SeenCount(ctx context.Context, fileHash string) (int, error)
}

// Handler serves uploads, downloads and run status.
type Handler struct {
	runner  Runner
	roots   workspace.Roots
	uploads *storage.FilesystemStorage
	midi    *storage.FilesystemStorage
	limits  validation.Limits
	seen    SeenCounter
}

// New creates a handler over the given storage roots.
func New(runner Runner, roots workspace.Roots, limits validation.Limits) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	uploads, err := storage.NewFilesystemStorage(roots.Uploads)
	if err != nil {
		return nil, fmt.Errorf("failed to open uploads storage: %w", err)
	}
	midi, err := storage.NewFilesystemStorage(roots.MIDI)
	if err != nil {
		return nil, fmt.Errorf("failed to open midi storage: %w", err)
	}
	return &Handler{
		runner:  runner,
		roots:   roots,
		uploads: uploads,
		midi:    midi,
		limits:  limits,
	}, nil
}

// WithSeenCounter reports repeat submissions in async responses.
func (h *Handler) WithSeenCounter(s SeenCounter) *Handler {
	h.seen = s
	return h
}

// RouterOptions configures the HTTP router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     http.Handler
}

// Router mounts every endpoint on a chi router.
func (h *Handler) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.HandleUpload)
		r.Get("/download/{uuid}", h.HandleDownloadMIDI)
		r.Get("/score/{uuid}", h.HandleDownloadScore)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/convert", h.HandleConvertAsync)
		r.Get("/runs/{runID}", h.HandleStatus)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy!"})
}

// statusForKind maps a failure kind to the HTTP status returned to the uploader.
func statusForKind(kind scoreerr.Kind) int {
	switch kind {
	case scoreerr.KindConfiguration:
		return http.StatusServiceUnavailable
	case scoreerr.KindUnclassified:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeConversionError(w http.ResponseWriter, err error) {
	kind := scoreerr.KindOf(err)
	writeJSON(w, statusForKind(kind), pipeline.ErrorResponse{
		Error: scoreerr.UserMessage(kind),
		Kind:  string(kind),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, pipeline.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// baseURL is the scheme and host the client used to reach the service.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}
