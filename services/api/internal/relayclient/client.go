package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docassist/internal/util"
	"docassist/pkg/domain"
)

const (
	DefaultTimeout    = 30 * time.Second
	UploadTimeout     = 120 * time.Second
	TranscribeTimeout = 60 * time.Second
	RespondTimeout    = 120 * time.Second

	maxResponseBytes = 8 << 20
)

// ErrMalformedResponse marks a 2xx relay reply that is not the expected JSON.
var ErrMalformedResponse = errors.New("relay returned a malformed response")

// TokenSource supplies the bearer token attached to relay calls.
type TokenSource interface {
	Token() (string, error)
}

// Config configures the relay client. Zero timeouts use the package defaults.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Tokens            TokenSource
	DefaultTimeout    time.Duration
	UploadTimeout     time.Duration
	TranscribeTimeout time.Duration
	RespondTimeout    time.Duration
}

// Client calls the AI orchestrator over HTTP.
type Client struct {
	baseURL           string
	httpClient        *http.Client
	tokens            TokenSource
	defaultTimeout    time.Duration
	uploadTimeout     time.Duration
	transcribeTimeout time.Duration
	respondTimeout    time.Duration
}

// APIError is a non-2xx relay reply. Body is the raw response text.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay returned status %d", e.Status)
}

// ConnectionError is a transport failure: dial, DNS, reset or timeout.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewClient constructs a relay client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient:        httpClient,
		tokens:            cfg.Tokens,
		defaultTimeout:    orDefault(cfg.DefaultTimeout, DefaultTimeout),
		uploadTimeout:     orDefault(cfg.UploadTimeout, UploadTimeout),
		transcribeTimeout: orDefault(cfg.TranscribeTimeout, TranscribeTimeout),
		respondTimeout:    orDefault(cfg.RespondTimeout, RespondTimeout),
	}
}

type UploadMetadata struct {
	OriginalName string  `json:"original_name"`
	Category     *string `json:"category"`
	UploadedBy   uint    `json:"uploaded_by"`
}

type UploadRequest struct {
	DocumentID uint           `json:"document_id"`
	FilePath   string         `json:"file_path"`
	Metadata   UploadMetadata `json:"metadata"`
}

// UploadResult carries the fields the API reads plus the raw payload.
type UploadResult struct {
	Summary *string
	Status  string
	Raw     json.RawMessage
}

// ProcessDocument asks the relay to ingest an uploaded document.
func (c *Client) ProcessDocument(ctx context.Context, in UploadRequest) (UploadResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return UploadResult{}, err
	}
	raw, err := c.do(ctx, c.uploadTimeout, "upload", http.MethodPost, "/documents/upload", bytes.NewReader(body), "application/json")
	if err != nil {
		return UploadResult{}, err
	}
	var parsed struct {
		Summary *string `json:"summary"`
		Status  *string `json:"status"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return UploadResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	res := UploadResult{Summary: parsed.Summary, Raw: raw}
	if parsed.Status != nil {
		res.Status = *parsed.Status
	}
	return res, nil
}

// Search forwards a query and returns the relay body untouched.
func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	path := "/documents/search?" + url.Values{"query": {query}}.Encode()
	raw, err := c.do(ctx, c.defaultTimeout, "search", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, ErrMalformedResponse
	}
	return raw, nil
}

// Transcribe uploads audio as multipart field "audio_file".
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio_file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	raw, err := c.do(ctx, c.transcribeTimeout, "transcribe", http.MethodPost, "/voice/transcribe", body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	return stringField(raw, "transcribed_text")
}

type RespondRequest struct {
	UserID              string                  `json:"user_id"`
	Prompt              string                  `json:"prompt"`
	ConversationHistory []domain.HistoryMessage `json:"conversation_history"`
}

// Respond asks the relay for the assistant's reply.
func (c *Client) Respond(ctx context.Context, in RespondRequest) (string, error) {
	if in.ConversationHistory == nil {
		in.ConversationHistory = []domain.HistoryMessage{}
	}
	body, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	raw, err := c.do(ctx, c.respondTimeout, "respond", http.MethodPost, "/voice/respond", bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	return stringField(raw, "response_text")
}

func (c *Client) do(ctx context.Context, timeout time.Duration, op, method, path string, body io.Reader, contentType string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(util.RequestIDHeader, id)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("sign relay token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	util.LoggerFromContext(ctx).Debug("relay_call",
		"op", op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func stringField(raw []byte, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	val, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedResponse, field)
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformedResponse, field)
	}
	return s, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
