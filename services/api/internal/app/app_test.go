package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docassist/pkg/domain"
	"docassist/pkg/store"
	"docassist/pkg/storage"
	"docassist/services/api/internal/relayclient"
)

type fakeRelay struct {
	uploadRes  relayclient.UploadResult
	uploadErr  error
	uploads    []relayclient.UploadRequest
	searchRaw  json.RawMessage
	searchErr  error
	transcript string
	transErr   error
	reply      string
	respondErr error
	responds   []relayclient.RespondRequest
	ctxErrs    []error
}

func (f *fakeRelay) ProcessDocument(ctx context.Context, in relayclient.UploadRequest) (relayclient.UploadResult, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.uploads = append(f.uploads, in)
	return f.uploadRes, f.uploadErr
}

func (f *fakeRelay) Search(ctx context.Context, query string) (json.RawMessage, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.searchRaw, f.searchErr
}

func (f *fakeRelay) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if _, err := io.ReadAll(audio); err != nil {
		return "", err
	}
	return f.transcript, f.transErr
}

func (f *fakeRelay) Respond(ctx context.Context, in relayclient.RespondRequest) (string, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.responds = append(f.responds, in)
	return f.reply, f.respondErr
}

type testEnv struct {
	app   *App
	store *store.MemoryStore
	blobs *storage.LocalStore
	relay *fakeRelay
}

func newTestApp(t *testing.T, enforceOwner bool) testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	relay := &fakeRelay{}
	a, err := New(Config{Store: mem, Blobs: blobs, Relay: relay, VoiceEnforceOwner: enforceOwner})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return testEnv{app: a, store: mem, blobs: blobs, relay: relay}
}

func mustRegister(t *testing.T, a *App, email string) (domain.User, string) {
	t.Helper()
	user, token, err := a.Register("Test User", email, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user, token
}

func TestNewRequiresBackends(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without database url")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), TokenStrategy: "redis", Blobs: &storage.LocalStore{}, Relay: &fakeRelay{}}); err == nil {
		t.Fatalf("expected redis strategy without redis to fail")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), TokenStrategy: "paper", Relay: &fakeRelay{}}); err == nil {
		t.Fatalf("expected unknown token strategy to fail")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), Storage: StorageConfig{Driver: "tape"}, Relay: &fakeRelay{}}); err == nil {
		t.Fatalf("expected unknown storage driver to fail")
	}
	if _, err := New(Config{Store: store.NewMemoryStore(), Storage: StorageConfig{LocalDir: t.TempDir()}}); err == nil {
		t.Fatalf("expected missing relay url to fail")
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newTestApp(t, false)
	user, token := mustRegister(t, env.app, " Alice@Example.com ")
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	got, err := env.app.UserFromToken(token)
	if err != nil || got.ID != user.ID {
		t.Fatalf("registration token should resolve: %+v %v", got, err)
	}

	_, second, err := env.app.Login("alice@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if second == token {
		t.Fatalf("login must issue a new token")
	}
	if err := env.app.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.app.UserFromToken(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked token should be unauthenticated, got %v", err)
	}
	if _, err := env.app.UserFromToken(second); err != nil {
		t.Fatalf("other tokens must survive logout: %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestApp(t, false)
	mustRegister(t, env.app, "bob@example.com")
	_, _, err := env.app.Register("Bob", "BOB@example.com", "password123")
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected email validation error, got %v", err)
	}
	if msgs := verr.Fields["email"]; len(msgs) != 1 || msgs[0] != MsgEmailTaken {
		t.Fatalf("unexpected messages %v", verr.Fields)
	}
	if taken, _ := env.app.EmailTaken("bob@example.com"); !taken {
		t.Fatalf("expected email taken")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestApp(t, false)
	mustRegister(t, env.app, "carol@example.com")
	for _, tc := range []struct{ email, password string }{
		{"carol@example.com", "wrong-password"},
		{"nobody@example.com", "password123"},
	} {
		if _, _, err := env.app.Login(tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("login %s: expected invalid credentials, got %v", tc.email, err)
		}
	}
}

func TestUploadDocumentSuccess(t *testing.T) {
	env := newTestApp(t, false)
	user, _ := mustRegister(t, env.app, "dave@example.com")
	summary := "short summary"
	env.relay.uploadRes = relayclient.UploadResult{Summary: &summary, Status: "processed", Raw: json.RawMessage(`{"status":"processed"}`)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	category := "finance"
	res, err := env.app.UploadDocument(ctx, UploadInput{
		UserID:       user.ID,
		OriginalName: "Report.TXT",
		Category:     &category,
		ContentType:  "text/plain",
		Size:         5,
		Body:         strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	doc := res.Document
	if doc.Status != domain.StatusProcessedAI || doc.Summary == nil || *doc.Summary != summary {
		t.Fatalf("unexpected document %+v", doc)
	}
	if !strings.HasPrefix(doc.FilePath, "documents/") || !strings.HasSuffix(doc.FilePath, ".txt") {
		t.Fatalf("unexpected file path %q", doc.FilePath)
	}
	if string(env.store.AIResponse(doc.ID)) != `{"status":"processed"}` {
		t.Fatalf("relay payload not persisted: %s", env.store.AIResponse(doc.ID))
	}
	if err := env.relay.ctxErrs[0]; err != nil {
		t.Fatalf("relay context must be detached from the caller, got %v", err)
	}
	sent := env.relay.uploads[0]
	if sent.DocumentID != doc.ID || sent.Metadata.OriginalName != "Report.TXT" || sent.Metadata.UploadedBy != user.ID {
		t.Fatalf("unexpected relay payload %+v", sent)
	}
	if !strings.HasSuffix(sent.FilePath, doc.FilePath) {
		t.Fatalf("relay should receive an absolute locator, got %q", sent.FilePath)
	}
}

func TestUploadDocumentKeepsKnownRelayStatus(t *testing.T) {
	env := newTestApp(t, false)
	user, _ := mustRegister(t, env.app, "erin@example.com")
	env.relay.uploadRes = relayclient.UploadResult{Status: "uploaded"}
	res, err := env.app.UploadDocument(context.Background(), UploadInput{UserID: user.ID, OriginalName: "a.txt", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Document.Status != domain.StatusUploaded || res.Document.Summary != nil {
		t.Fatalf("unexpected document %+v", res.Document)
	}
}

func TestUploadDocumentRelayFailures(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantKind   RelayFailure
		wantStatus domain.DocumentStatus
	}{
		{"http", &relayclient.APIError{Status: 422, Body: `{"detail":"bad"}`}, RelayHTTP, domain.StatusAIFailed},
		{"connection", &relayclient.ConnectionError{Op: "upload", Err: context.DeadlineExceeded}, RelayConnection, domain.StatusAIConnectionError},
		{"unknown", relayclient.ErrMalformedResponse, RelayUnknown, domain.StatusAIProcessError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestApp(t, false)
			user, _ := mustRegister(t, env.app, "frank@example.com")
			env.relay.uploadErr = tc.err
			res, err := env.app.UploadDocument(context.Background(), UploadInput{UserID: user.ID, OriginalName: "a.pdf", Body: strings.NewReader("%PDF")})
			var relayErr *RelayError
			if !errors.As(err, &relayErr) || relayErr.Kind != tc.wantKind {
				t.Fatalf("expected %v relay error, got %v", tc.wantKind, err)
			}
			stored, ok, _ := env.store.GetDocument(res.Document.ID)
			if !ok || stored.Status != tc.wantStatus {
				t.Fatalf("expected stored status %s, got %+v", tc.wantStatus, stored)
			}
			if !blobStored(t, env.blobs, stored.FilePath) {
				t.Fatalf("uploaded file must be kept after relay failure")
			}
			if tc.wantKind == RelayHTTP && (relayErr.Status != 422 || relayErr.Body != `{"detail":"bad"}`) {
				t.Fatalf("relay status and body must be carried, got %d %s", relayErr.Status, relayErr.Body)
			}
		})
	}
}

func TestSearchDocuments(t *testing.T) {
	env := newTestApp(t, false)
	env.relay.searchRaw = json.RawMessage(`{"results":[]}`)
	raw, err := env.app.SearchDocuments(context.Background(), "quarterly")
	if err != nil || string(raw) != `{"results":[]}` {
		t.Fatalf("search: %s %v", raw, err)
	}
	env.relay.searchErr = &relayclient.ConnectionError{Op: "search", Err: io.ErrUnexpectedEOF}
	_, err = env.app.SearchDocuments(context.Background(), "quarterly")
	var relayErr *RelayError
	if !errors.As(err, &relayErr) || relayErr.Kind != RelayConnection || relayErr.Op != "search" {
		t.Fatalf("expected connection relay error, got %v", err)
	}
}

func TestProcessVoiceRecordsBothTurns(t *testing.T) {
	env := newTestApp(t, false)
	user, _ := mustRegister(t, env.app, "gina@example.com")
	if _, err := env.store.AppendVoiceTurns(
		domain.Voice{UserID: user.ID, Speaker: domain.SpeakerUser, Text: "earlier question"},
		domain.Voice{UserID: user.ID, Speaker: domain.SpeakerAssistant, Text: "earlier answer"},
	); err != nil {
		t.Fatalf("seed turns: %v", err)
	}
	env.relay.transcript = "你好，AI助理。"
	env.relay.reply = "您好，有什麼我可以幫您的嗎？"

	res, err := env.app.ProcessVoice(context.Background(), VoiceInput{
		CallerID: user.ID,
		UserID:   "1",
		Filename: "clip.webm",
		Body:     strings.NewReader("audio"),
	})
	if err != nil {
		t.Fatalf("process voice: %v", err)
	}
	if res.TranscribedText != env.relay.transcript || res.ResponseText != env.relay.reply {
		t.Fatalf("unexpected result %+v", res)
	}
	sent := env.relay.responds[0]
	if sent.UserID != "1" || sent.Prompt != env.relay.transcript || len(sent.ConversationHistory) != 2 {
		t.Fatalf("unexpected respond payload %+v", sent)
	}
	if sent.ConversationHistory[0] != (domain.HistoryMessage{Role: "user", Content: "earlier question"}) ||
		sent.ConversationHistory[1].Role != "assistant" {
		t.Fatalf("history not mapped in order: %+v", sent.ConversationHistory)
	}

	turns, _ := env.app.VoiceHistory(user.ID)
	if len(turns) != 4 {
		t.Fatalf("expected two new turns, got %d total", len(turns))
	}
	userTurn, botTurn := turns[2], turns[3]
	if userTurn.Speaker != domain.SpeakerUser || userTurn.AudioPath == nil || !strings.HasPrefix(*userTurn.AudioPath, "voices/") {
		t.Fatalf("unexpected user turn %+v", userTurn)
	}
	if botTurn.Speaker != domain.SpeakerAssistant || botTurn.AudioPath != nil || botTurn.Text != env.relay.reply {
		t.Fatalf("unexpected assistant turn %+v", botTurn)
	}
	if !blobStored(t, env.blobs, *userTurn.AudioPath) {
		t.Fatalf("audio must be stored")
	}
}

func TestProcessVoiceFailuresWriteNoTurns(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*fakeRelay)
		wantOp string
	}{
		{"transcribe", func(f *fakeRelay) { f.transErr = &relayclient.APIError{Status: 502, Body: "down"} }, "transcribe"},
		{"respond", func(f *fakeRelay) {
			f.transcript = "hi"
			f.respondErr = &relayclient.ConnectionError{Op: "respond", Err: io.EOF}
		}, "respond"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestApp(t, false)
			user, _ := mustRegister(t, env.app, "hank@example.com")
			tc.setup(env.relay)
			_, err := env.app.ProcessVoice(context.Background(), VoiceInput{CallerID: user.ID, UserID: "1", Filename: "a.mp3", Body: strings.NewReader("x")})
			var relayErr *RelayError
			if !errors.As(err, &relayErr) || relayErr.Op != tc.wantOp {
				t.Fatalf("expected %s relay error, got %v", tc.wantOp, err)
			}
			if turns, _ := env.app.VoiceHistory(user.ID); len(turns) != 0 {
				t.Fatalf("no turns may be written on failure, got %d", len(turns))
			}
		})
	}
}

func TestProcessVoiceValidatesOwner(t *testing.T) {
	env := newTestApp(t, false)
	user, _ := mustRegister(t, env.app, "ivy@example.com")
	for _, raw := range []string{"abc", "0", "-3"} {
		_, err := env.app.ProcessVoice(context.Background(), VoiceInput{CallerID: user.ID, UserID: raw, Body: strings.NewReader("x")})
		var verr *ValidationError
		if !errors.As(err, &verr) || !verr.Has("user_id") {
			t.Fatalf("user_id %q: expected validation error, got %v", raw, err)
		}
	}
	_, err := env.app.ProcessVoice(context.Background(), VoiceInput{CallerID: user.ID, UserID: "99", Body: strings.NewReader("x")})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["user_id"][0] != MsgUserIDInvalid {
		t.Fatalf("unknown user: expected validation error, got %v", err)
	}
	if len(env.relay.ctxErrs) != 0 {
		t.Fatalf("relay must not be called for invalid owners")
	}
}

func TestProcessVoiceEnforceOwner(t *testing.T) {
	env := newTestApp(t, true)
	first, _ := mustRegister(t, env.app, "jack@example.com")
	mustRegister(t, env.app, "kate@example.com")
	env.relay.transcript, env.relay.reply = "q", "a"
	if _, err := env.app.ProcessVoice(context.Background(), VoiceInput{CallerID: first.ID, UserID: "2", Body: strings.NewReader("x")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.app.ProcessVoice(context.Background(), VoiceInput{CallerID: first.ID, UserID: "1", Body: strings.NewReader("x")}); err != nil {
		t.Fatalf("own conversation should be allowed: %v", err)
	}
}

func blobStored(t *testing.T, blobs *storage.LocalStore, key string) bool {
	t.Helper()
	loc, err := blobs.Locate(context.Background(), key)
	if err != nil {
		t.Fatalf("locate %s: %v", key, err)
	}
	_, err = os.Stat(loc)
	return err == nil
}

type failingDocumentStore struct {
	*store.MemoryStore
}

func (failingDocumentStore) CreateDocument(domain.Document) (domain.Document, error) {
	return domain.Document{}, errors.New("insert failed")
}

func TestUploadDocumentRemovesBlobWhenRowFails(t *testing.T) {
	dir := t.TempDir()
	blobs, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	relay := &fakeRelay{}
	a, err := New(Config{Store: failingDocumentStore{store.NewMemoryStore()}, Blobs: blobs, Relay: relay})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	_, err = a.UploadDocument(context.Background(), UploadInput{
		UserID:       1,
		OriginalName: "orphan.txt",
		ContentType:  "text/plain",
		Size:         5,
		Body:         strings.NewReader("hello"),
	})
	if err == nil || !strings.Contains(err.Error(), "insert failed") {
		t.Fatalf("expected create failure, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, storage.KindDocuments))
	if len(entries) != 0 {
		t.Fatalf("stored blob must be removed when the row cannot be created, got %d files", len(entries))
	}
	if len(relay.uploads) != 0 {
		t.Fatalf("relay must not be called without a document row")
	}
}
