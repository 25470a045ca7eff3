package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/spewite/score-to-midi/pkg/pipeline"
)

// Client is an HTTP client for the score conversion service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client. Synchronous uploads wait for the whole
// conversion, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// NewWithHTTPClient creates a new client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// APIError is a non-success response from the service.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Upload sends a score image and waits for its MIDI conversion
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*pipeline.UploadResponse, error) {
	var out pipeline.UploadResponse
	if err := c.postFile(ctx, "/api/upload", filename, r, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Convert enqueues a score image for durable conversion
func (c *Client) Convert(ctx context.Context, filename string, r io.Reader) (*pipeline.ConvertResponse, error) {
	var out pipeline.ConvertResponse
	if err := c.postFile(ctx, "/v1/convert", filename, r, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunStatus returns the state of an enqueued conversion
func (c *Client) RunStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+runID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out pipeline.RunStatus
	if err := c.do(httpReq, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForRun polls RunStatus until the run succeeds or fails
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (*pipeline.RunStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.RunStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if status.State == pipeline.StateSucceeded || status.State == pipeline.StateFailed {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadMIDI writes the converted MIDI file for token to w
func (c *Client) DownloadMIDI(ctx context.Context, token string, w io.Writer) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+token, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return n, nil
}

func (c *Client) postFile(ctx context.Context, path, filename string, r io.Reader, want int, out any) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(httpReq, want, out)
}

func (c *Client) do(httpReq *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}

	var errResp pipeline.ErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
		apiErr.Message = errResp.Error
		apiErr.Kind = errResp.Kind
	}
	return apiErr
}
