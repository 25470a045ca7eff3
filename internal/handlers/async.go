package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spewite/score-to-midi/internal/ledger"
	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/workflows"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

// HandleConvertAsync handles POST /v1/convert - stages the upload, enqueues the
// conversion and returns immediately
func (h *Handler) HandleConvertAsync(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)

	s, ok := h.receive(w, r)
	if !ok {
		return
	}

	req := pipeline.ConvertRequest{
		Token:      s.token,
		UploadPath: s.path,
		Filename:   s.upload.Filename,
		MIMEType:   s.upload.MIME,
		Job:        pipeline.JobConvert,
	}

	log.Printf("Enqueueing workflow: token=%s, file=%s", req.Token, req.Filename)

	// Enqueue workflow (non-blocking)
	runID, err := h.runner.RunAsync(r.Context(), req)
	if err != nil {
		log.Printf("Failed to enqueue workflow: %v", err)
		if errors.Is(err, workflows.ErrNoRuntime) {
			writeError(w, http.StatusServiceUnavailable, "Asynchronous conversions are not enabled.")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to enqueue the conversion. Please, try again.")
		return
	}

	log.Printf("Workflow enqueued successfully: run_id=%s", runID)

	resp := pipeline.ConvertResponse{
		RunID:     runID,
		FileUUID:  s.token,
		SeenCount: h.seenCount(r, s),
		StatusURL: fmt.Sprintf("%s/v1/runs/%s", baseURL(r), runID),
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// seenCount is the number of earlier submissions of the same bytes, or 0 when
// no ledger is configured.
func (h *Handler) seenCount(r *http.Request, s staged) int {
	if h.seen == nil {
		return 0
	}
	hash, err := ledger.HashFile(s.path)
	if err != nil {
		log.Printf("[%s] Failed to hash upload: %v", s.token, err)
		return 0
	}
	n, err := h.seen.SeenCount(r.Context(), hash)
	if err != nil {
		log.Printf("[%s] Failed to read ledger: %v", s.token, err)
		return 0
	}
	return n
}

// HandleStatus handles GET /v1/runs/{runID} - returns workflow status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}

	status, err := h.runner.GetStatus(r.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, workflows.ErrWorkflowNotFound):
			writeError(w, http.StatusNotFound, "Workflow not found")
		case errors.Is(err, workflows.ErrNoRuntime):
			writeError(w, http.StatusServiceUnavailable, "Asynchronous conversions are not enabled.")
		default:
			log.Printf("Failed to get workflow status: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to read workflow status")
		}
		return
	}

	token := workflows.TokenFromWorkflowID(status.RunID)
	resp := pipeline.RunStatus{
		RunID:    status.RunID,
		FileUUID: token,
		State:    status.State,
	}
	switch status.State {
	case pipeline.StateSucceeded:
		if token != "" {
			resp.MIDIURL = fmt.Sprintf("%s/api/download/%s", baseURL(r), token)
		}
	case pipeline.StateFailed:
		kind := scoreerr.KindFromText(status.Error)
		if kind == scoreerr.KindNone {
			kind = scoreerr.KindUnclassified
		}
		resp.Kind = string(kind)
		resp.Error = scoreerr.UserMessage(kind)
	}

	writeJSON(w, http.StatusOK, resp)
}
