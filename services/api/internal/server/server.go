package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docassist/internal/ratelimit"
	"docassist/internal/util"
	"docassist/pkg/domain"
	"docassist/services/api/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Redis                      redis.UniversalClient
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	MaxUploadBytes             int64
	CORS                       util.CORSOptions
	TrustedProxies             *util.TrustedProxies
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	cors           util.CORSOptions
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64
	registerLimit  *ratelimit.FixedWindowLimiter
	loginLimit     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// enabled only when a Redis client is supplied.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		cors:           cfg.CORS,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	if cfg.Redis != nil {
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		var err error
		s.registerLimit, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "docassist:ratelimit:register", registerLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init register limiter: %w", err)
		}
		s.loginLimit, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "docassist:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api",
		util.WithSecurityHeaders(util.WithCORS(s.cors, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.Handle("/api/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/user", s.authenticated(s.handleCurrentUser))

	// documents
	s.mux.Handle("/api/documents/upload", s.authenticated(s.handleUploadDocument))
	s.mux.Handle("/api/documents/search", s.authenticated(s.handleSearchDocuments))

	// voice
	s.mux.Handle("/api/voice/process", s.authenticated(s.handleProcessVoice))
	s.mux.Handle("/api/voice/history/", s.authenticated(s.handleVoiceHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "Unauthenticated.")
			return
		}
		user, err := s.app.UserFromToken(token)
		if err != nil {
			if errors.Is(err, app.ErrUnauthenticated) {
				s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
				writeError(w, http.StatusUnauthorized, "Unauthenticated.")
				return
			}
			util.LoggerFromContext(r.Context()).Error("token lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "Server Error")
			return
		}
		s.audit(r, "api.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeValidationError(w http.ResponseWriter, msg string, verr *app.ValidationError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": msg,
		"errors":  verr.Fields,
	})
}

// relayMessages are the response messages for each relay failure kind.
type relayMessages struct {
	http       string
	connection string
	unknown    string
}

// writeAppError maps app errors to responses. Validation failures use
// validationMsg; relay failures use msgs.
func writeAppError(w http.ResponseWriter, r *http.Request, err error, validationMsg string, msgs relayMessages) {
	var verr *app.ValidationError
	var relayErr *app.RelayError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, validationMsg, verr)
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "This action is unauthorized.")
	case errors.As(err, &relayErr):
		switch relayErr.Kind {
		case app.RelayHTTP:
			status := relayErr.Status
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			writeJSON(w, status, map[string]any{"message": msgs.http, "error": relayErr.Body})
		case app.RelayConnection:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": msgs.connection, "error": relayErr.Err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": msgs.unknown, "error": relayErr.Err.Error()})
		}
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Server Error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromContext(r.Context()),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	allowed, retryAfter := limiter.Allow(r.Context(), key)
	if allowed {
		return true
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
