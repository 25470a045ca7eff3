package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/validation"
	"github.com/spewite/score-to-midi/internal/workflows"
	"github.com/spewite/score-to-midi/internal/workspace"
	"github.com/spewite/score-to-midi/pkg/pipeline"
)

type fakeRunner struct {
	result    *workflows.WorkflowResult
	err       error
	asyncErr  error
	status    *workflows.WorkflowStatus
	statusErr error
	requests  []pipeline.ConvertRequest
}

func (f *fakeRunner) Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error) {
	f.requests = append(f.requests, wctx.Request)
	if f.err != nil {
		return &workflows.WorkflowResult{Success: false}, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) RunAsync(ctx context.Context, req pipeline.ConvertRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.asyncErr != nil {
		return "", f.asyncErr
	}
	return workflows.WorkflowID(req), nil
}

func (f *fakeRunner) GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return f.status, f.statusErr
}

type fixedSeen int

func (n fixedSeen) SeenCount(ctx context.Context, fileHash string) (int, error) { return int(n), nil }

func newTestHandler(t *testing.T, runner *fakeRunner) (*Handler, workspace.Roots) {
	t.Helper()
	dir := t.TempDir()
	roots := workspace.Roots{
		Uploads:   filepath.Join(dir, "uploads"),
		MXL:       filepath.Join(dir, "mxl"),
		MIDI:      filepath.Join(dir, "midi"),
		OMROutput: filepath.Join(dir, "omr"),
	}
	if err := roots.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	h, err := New(runner, roots, validation.DefaultLimits())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h, roots
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Router(RouterOptions{}).ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) pipeline.ErrorResponse {
	t.Helper()
	var resp pipeline.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy!") {
		t.Fatalf("GET /health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadConvertsAndReturnsURLs(t *testing.T) {
	runner := &fakeRunner{result: &workflows.WorkflowResult{
		Success: true,
		Outputs: map[string]string{pipeline.OutputMIDIFilename: "score.midi"},
	}}
	h, roots := newTestHandler(t, runner)

	rec := serve(h, multipartRequest(t, "/api/upload", "file", "my score.png", pngBytes(t)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/upload = %d %s", rec.Code, rec.Body.String())
	}

	var resp pipeline.UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FileUUID == "" || resp.OriginalFilename != "my_score.png" || resp.MIDIFilename != "score.midi" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.MIDIURL != "http://example.com/api/download/"+resp.FileUUID {
		t.Fatalf("midi_url = %q", resp.MIDIURL)
	}
	if resp.ScoreURL != "http://example.com/api/score/"+resp.FileUUID {
		t.Fatalf("score_url = %q", resp.ScoreURL)
	}

	if len(runner.requests) != 1 {
		t.Fatalf("runner called %d times", len(runner.requests))
	}
	got := runner.requests[0]
	want := filepath.Join(roots.Uploads, resp.FileUUID, "my_score.png")
	if got.UploadPath != want || got.MIMEType != "image/png" || got.Token != resp.FileUUID {
		t.Fatalf("request = %+v", got)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("upload not staged: %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
		want     string
	}{
		{"missing field", "image", "score.png", []byte("x"), noFileMessage},
		{"unsafe filename", "file", "!!!", []byte("x"), noFileMessage},
		{"extension", "file", "score.txt", []byte("hello"), "File type not allowed"},
		{"content mismatch", "file", "score.png", []byte("plain text, not an image"), "File content does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h, _ := newTestHandler(t, runner)
			rec := serve(h, multipartRequest(t, "/api/upload", tt.field, tt.filename, tt.data))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeError(t, rec); !strings.Contains(resp.Error, tt.want) {
				t.Fatalf("error = %q, want it to contain %q", resp.Error, tt.want)
			}
			if len(runner.requests) != 0 {
				t.Fatal("runner called for a rejected upload")
			}
		})
	}
}

func TestUploadMapsFailureKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   scoreerr.Kind
	}{
		{scoreerr.New("classifying", scoreerr.ErrScoreQuality, nil), http.StatusBadRequest, scoreerr.KindQuality},
		{scoreerr.New("classifying", scoreerr.ErrScoreStructure, nil), http.StatusBadRequest, scoreerr.KindStructure},
		{scoreerr.New("classifying", scoreerr.ErrScoreTooLarge, nil), http.StatusBadRequest, scoreerr.KindTooLarge},
		{scoreerr.New("verifying", scoreerr.ErrMIDINotFound, nil), http.StatusBadRequest, scoreerr.KindMIDINotFound},
		{scoreerr.New("recognizing", scoreerr.ErrRecognitionTimeout, nil), http.StatusBadRequest, scoreerr.KindRecognitionTimeout},
		{scoreerr.New("recognizing", scoreerr.ErrConfiguration, nil), http.StatusServiceUnavailable, scoreerr.KindConfiguration},
		{errors.New("disk full"), http.StatusInternalServerError, scoreerr.KindUnclassified},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h, _ := newTestHandler(t, &fakeRunner{err: tt.err})
			rec := serve(h, multipartRequest(t, "/api/upload", "file", "score.png", pngBytes(t)))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			resp := decodeError(t, rec)
			if resp.Kind != string(tt.kind) || resp.Error != scoreerr.UserMessage(tt.kind) {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	runner := &fakeRunner{}
	h, _ := newTestHandler(t, runner)
	h.limits = validation.Limits{MaxBytes: 1 << 20}

	rec := serve(h, multipartRequest(t, "/api/upload", "file", "score.png", bytes.Repeat([]byte{0}, 3<<19)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); !strings.Contains(resp.Error, "File size exceeds maximum allowed size (1MB)") {
		t.Fatalf("error = %q", resp.Error)
	}
	if len(runner.requests) != 0 {
		t.Fatal("runner called for an oversized upload")
	}
}

func TestDownloads(t *testing.T) {
	h, roots := newTestHandler(t, &fakeRunner{})
	token := "4b1e0c1a-0000-4000-8000-000000000001"
	for _, f := range []struct{ root, name, data string }{
		{roots.MIDI, "score.midi", "MThd"},
		{roots.Uploads, "score.png", "png"},
	} {
		dir := filepath.Join(f.root, token)
		os.MkdirAll(dir, 0o755)
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.data), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/download/" + token, http.StatusOK, "MThd"},
		{"/api/score/" + token, http.StatusOK, "png"},
		{"/api/download/unknown", http.StatusNotFound, "MIDI file not found."},
		{"/api/score/unknown", http.StatusNotFound, "Score file not found."},
		{"/api/download/..", http.StatusNotFound, "MIDI file not found."},
	}
	for _, tt := range tests {
		rec := serve(h, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.body) {
			t.Fatalf("GET %s = %d %q", tt.path, rec.Code, rec.Body.String())
		}
		if tt.status == http.StatusOK && !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment") {
			t.Fatalf("GET %s Content-Disposition = %q", tt.path, rec.Header().Get("Content-Disposition"))
		}
	}
}

func TestConvertAsync(t *testing.T) {
	runner := &fakeRunner{}
	h, _ := newTestHandler(t, runner)
	h.WithSeenCounter(fixedSeen(3))

	rec := serve(h, multipartRequest(t, "/v1/convert", "file", "score.png", pngBytes(t)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/convert = %d %s", rec.Code, rec.Body.String())
	}
	var resp pipeline.ConvertResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "convert-"+resp.FileUUID || resp.SeenCount != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.StatusURL != "http://example.com/v1/runs/"+resp.RunID {
		t.Fatalf("status_url = %q", resp.StatusURL)
	}
}

func TestConvertAsyncWithoutRuntime(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{asyncErr: workflows.ErrNoRuntime})
	rec := serve(h, multipartRequest(t, "/v1/convert", "file", "score.png", pngBytes(t)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRunStatus(t *testing.T) {
	failure := scoreerr.New("classifying", scoreerr.ErrScoreQuality, errors.New("matched")).Error()
	tests := []struct {
		name   string
		runner *fakeRunner
		status int
		check  func(pipeline.RunStatus) bool
	}{
		{
			name:   "succeeded",
			runner: &fakeRunner{status: &workflows.WorkflowStatus{RunID: "convert-abc", State: pipeline.StateSucceeded}},
			status: http.StatusOK,
			check: func(s pipeline.RunStatus) bool {
				return s.FileUUID == "abc" && s.MIDIURL == "http://example.com/api/download/abc"
			},
		},
		{
			name:   "failed",
			runner: &fakeRunner{status: &workflows.WorkflowStatus{RunID: "convert-abc", State: pipeline.StateFailed, Error: failure}},
			status: http.StatusOK,
			check: func(s pipeline.RunStatus) bool {
				return s.Kind == string(scoreerr.KindQuality) && s.Error == scoreerr.UserMessage(scoreerr.KindQuality)
			},
		},
		{
			name:   "not found",
			runner: &fakeRunner{statusErr: workflows.ErrWorkflowNotFound},
			status: http.StatusNotFound,
		},
		{
			name:   "no runtime",
			runner: &fakeRunner{statusErr: workflows.ErrNoRuntime},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.runner)
			rec := serve(h, httptest.NewRequest(http.MethodGet, "/v1/runs/convert-abc", nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.check == nil {
				return
			}
			var resp pipeline.RunStatus
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !tt.check(resp) {
				t.Fatalf("response = %+v", resp)
			}
		})
	}
}

func TestRouterOptions(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "score_to_midi_conversions_in_flight 0\n")
	})
	router := h.Router(RouterOptions{CORSOrigins: []string{"https://score-to-midi.com"}, Metrics: metrics})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "in_flight") {
		t.Fatalf("GET /metrics = %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://score-to-midi.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://score-to-midi.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestBaseURLHonoursForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "api.score-to-midi.com"
	req.Header.Set("X-Forwarded-Proto", "https, http")
	if got := baseURL(req); got != "https://api.score-to-midi.com" {
		t.Fatalf("baseURL() = %q", got)
	}
}
