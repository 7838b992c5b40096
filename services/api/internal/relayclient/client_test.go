package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docassist/internal/util"
	"docassist/pkg/domain"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestProcessDocumentSendsPayloadAndHeaders(t *testing.T) {
	var got UploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/documents/upload" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Request-Id") != "req-1" {
			t.Errorf("missing request id header, got %q", r.Header.Get("X-Request-Id"))
		}
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"document_id":1,"summary":"a summary","status":"processed"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", Tokens: staticToken("svc-token")})
	ctx := util.ContextWithRequestID(context.Background(), "req-1")
	category := "reports"
	res, err := c.ProcessDocument(ctx, UploadRequest{
		DocumentID: 1,
		FilePath:   "/data/documents/a.txt",
		Metadata:   UploadMetadata{OriginalName: "a.txt", Category: &category, UploadedBy: 9},
	})
	if err != nil {
		t.Fatalf("process document: %v", err)
	}
	if res.Summary == nil || *res.Summary != "a summary" || res.Status != "processed" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(string(res.Raw), `"document_id":1`) {
		t.Fatalf("raw payload not preserved: %s", res.Raw)
	}
	if got.DocumentID != 1 || got.FilePath != "/data/documents/a.txt" || got.Metadata.UploadedBy != 9 || got.Metadata.Category == nil {
		t.Fatalf("unexpected relay payload: %+v", got)
	}
}

func TestProcessDocumentToleratesMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res, err := NewClient(Config{BaseURL: srv.URL}).ProcessDocument(context.Background(), UploadRequest{DocumentID: 2})
	if err != nil {
		t.Fatalf("process document: %v", err)
	}
	if res.Summary != nil || res.Status != "" {
		t.Fatalf("expected empty fields, got %+v", res)
	}
}

func TestNon2xxBecomesAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantBody string
	}{
		{"json body", http.StatusUnprocessableEntity, `{"detail":"bad file"}`, `{"detail":"bad file"}`},
		{"text body", http.StatusBadGateway, "upstream down\n", "upstream down\n"},
		{"empty body", http.StatusServiceUnavailable, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}).Search(context.Background(), "hello")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tc.status || apiErr.Body != tc.wantBody {
				t.Fatalf("unexpected error: status=%d body=%q", apiErr.Status, apiErr.Body)
			}
		})
	}
}

func TestUnreachableRelayIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(Config{BaseURL: base}).Respond(context.Background(), RespondRequest{UserID: "1", Prompt: "hi"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Op != "respond" {
		t.Fatalf("unexpected op %q", connErr.Op)
	}
}

func TestTimeoutIsConnectionError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, TranscribeTimeout: 50 * time.Millisecond})
	_, err := c.Transcribe(context.Background(), "a.mp3", strings.NewReader("audio"))
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestTranscribeSendsMultipartAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/transcribe" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "clip.webm" || string(data) != "audio-bytes" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}
		_, _ = w.Write([]byte(`{"transcribed_text":"你好，AI助理。"}`))
	}))
	defer srv.Close()

	text, err := NewClient(Config{BaseURL: srv.URL}).Transcribe(context.Background(), "clip.webm", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "你好，AI助理。" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestRespondSendsHistoryAndRejectsMissingField(t *testing.T) {
	var body map[string]json.RawMessage
	reply := `{"response_text":"您好，有什麼我可以幫您的嗎？"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, reply)
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL})

	text, err := c.Respond(context.Background(), RespondRequest{
		UserID:              "5",
		Prompt:              "hello",
		ConversationHistory: []domain.HistoryMessage{{Role: "user", Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if text != "您好，有什麼我可以幫您的嗎？" {
		t.Fatalf("unexpected text %q", text)
	}
	if string(body["user_id"]) != `"5"` || string(body["conversation_history"]) != `[{"role":"user","content":"earlier"}]` {
		t.Fatalf("unexpected payload %v", body)
	}

	if _, err := c.Respond(context.Background(), RespondRequest{UserID: "5", Prompt: "x"}); err != nil {
		t.Fatalf("respond without history: %v", err)
	}
	if string(body["conversation_history"]) != `[]` {
		t.Fatalf("nil history must be sent as an empty list, got %s", body["conversation_history"])
	}

	reply = `{"other":"x"}`
	if _, err := c.Respond(context.Background(), RespondRequest{UserID: "5", Prompt: "x"}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestSearchEncodesQueryAndReturnsBodyVerbatim(t *testing.T) {
	const payload = `{"results":[{"id":1,"score":0.9}],"query":"a b&c"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/documents/search" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("query"); got != "a b&c" {
			t.Errorf("unexpected query %q", got)
		}
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	raw, err := NewClient(Config{BaseURL: srv.URL}).Search(context.Background(), "a b&c")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if string(raw) != payload {
		t.Fatalf("body not relayed verbatim: %s", raw)
	}
}
