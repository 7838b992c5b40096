package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"docassist/pkg/domain"
	"docassist/services/api/internal/app"
)

type registerRequest struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8,eqfield=PasswordConfirmation"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type searchRequest struct {
	Q string `json:"q" validate:"required,min=2,max=500"`
}

type categoryField struct {
	Category string `json:"category" validate:"max=255"`
}

type userIDField struct {
	UserID string `json:"user_id" validate:"required"`
}

type authResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
}

type uploadResponse struct {
	Message    string          `json:"message"`
	Document   domain.Document `json:"document"`
	AIResponse json.RawMessage `json:"ai_response"`
}

type voiceResponse struct {
	Message         string `json:"message"`
	TranscribedText string `json:"transcribed_text"`
	ResponseText    string `json:"response_text"`
}

type historyItem struct {
	Speaker   domain.Speaker `json:"speaker"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}

var (
	uploadRelayMessages = relayMessages{
		http:       "文件上傳成功，但AI處理失敗",
		connection: "文件上傳成功，但無法連接AI服務",
		unknown:    "文件上傳成功，但AI處理發生未知錯誤",
	}
	searchRelayMessages = relayMessages{
		http:       "文件搜尋失敗",
		connection: "無法連接AI服務進行搜尋",
		unknown:    "AI搜尋服務異常",
	}
	transcribeRelayMessages = relayMessages{
		http:       "語音轉錄失敗",
		connection: "無法連接AI服務",
		unknown:    "語音處理服務異常",
	}
	respondRelayMessages = relayMessages{
		http:       "AI 回應生成失敗",
		connection: "無法連接AI服務",
		unknown:    "語音處理服務異常",
	}
)

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimit, "Too Many Attempts.") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "api.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	verr := validateRequest(&req)
	if verr == nil || !verr.Has("email") {
		taken, err := s.app.EmailTaken(req.Email)
		if err != nil {
			writeAppError(w, r, err, "", relayMessages{})
			return
		}
		if taken {
			if verr == nil {
				verr = app.NewValidationError()
			}
			verr.Add("email", app.MsgEmailTaken)
		}
	}
	if verr != nil {
		s.audit(r, "api.register", "fail", "reason", "validation")
		writeValidationError(w, "註冊驗證失敗", verr)
		return
	}
	user, token, err := s.app.Register(req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAppError(w, r, err, "註冊驗證失敗", relayMessages{})
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Message: "User registered successfully", Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimit, "Too Many Attempts.") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if verr := validateRequest(&req); verr != nil {
		s.audit(r, "api.login", "fail", "reason", "validation")
		writeValidationError(w, "登入驗證失敗", verr)
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "api.login", "fail", "reason", "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeAppError(w, r, err, "", relayMessages{})
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "api.logout", "fail", "user_id", user.ID, "reason", err.Error())
		writeAppError(w, r, err, "", relayMessages{})
		return
	}
	s.audit(r, "api.logout", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// documents
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	verr := app.NewValidationError()
	if err := parseUploadForm(w, r, documentRule, s.maxUploadBytes, verr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	upload := readUpload(r, documentRule, s.maxUploadBytes, verr)
	defer upload.Close()
	category := categoryField{Category: strings.TrimSpace(r.FormValue("category"))}
	if fieldErrs := validateRequest(&category); fieldErrs != nil {
		for field, msgs := range fieldErrs.Fields {
			for _, msg := range msgs {
				verr.Add(field, msg)
			}
		}
	}
	if !verr.Empty() {
		writeValidationError(w, "文件驗證失敗", verr)
		return
	}

	var categoryPtr *string
	if category.Category != "" {
		categoryPtr = &category.Category
	}
	res, err := s.app.UploadDocument(r.Context(), app.UploadInput{
		UserID:       user.ID,
		OriginalName: upload.name,
		Category:     categoryPtr,
		ContentType:  upload.contentType,
		Size:         upload.size,
		Body:         upload.file,
	})
	if err != nil {
		writeAppError(w, r, err, "文件驗證失敗", uploadRelayMessages)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Message:    "文件已上傳並發送至AI處理",
		Document:   res.Document,
		AIResponse: res.AIResponse,
	})
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	req := searchRequest{Q: strings.TrimSpace(r.URL.Query().Get("q"))}
	if verr := validateRequest(&req); verr != nil {
		writeValidationError(w, "搜尋查詢驗證失敗", verr)
		return
	}
	raw, err := s.app.SearchDocuments(r.Context(), req.Q)
	if err != nil {
		writeAppError(w, r, err, "搜尋查詢驗證失敗", searchRelayMessages)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// voice
func (s *Server) handleProcessVoice(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	verr := app.NewValidationError()
	if err := parseUploadForm(w, r, voiceRule, s.maxUploadBytes, verr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	upload := readUpload(r, voiceRule, s.maxUploadBytes, verr)
	defer upload.Close()
	owner := userIDField{UserID: strings.TrimSpace(r.FormValue("user_id"))}
	if fieldErrs := validateRequest(&owner); fieldErrs != nil {
		for field, msgs := range fieldErrs.Fields {
			for _, msg := range msgs {
				verr.Add(field, msg)
			}
		}
	}
	if !verr.Empty() {
		writeValidationError(w, "語音文件驗證失敗", verr)
		return
	}

	res, err := s.app.ProcessVoice(r.Context(), app.VoiceInput{
		CallerID:    user.ID,
		UserID:      owner.UserID,
		Filename:    upload.name,
		ContentType: upload.contentType,
		Size:        upload.size,
		Body:        upload.file,
	})
	if err != nil {
		msgs := respondRelayMessages
		var relayErr *app.RelayError
		if errors.As(err, &relayErr) && relayErr.Op == "transcribe" {
			msgs = transcribeRelayMessages
		}
		if errors.Is(err, app.ErrForbidden) {
			s.audit(r, "api.voice.owner", "fail", "user_id", user.ID, "requested_user_id", owner.UserID)
		}
		writeAppError(w, r, err, "語音文件驗證失敗", msgs)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{
		Message:         "語音處理成功",
		TranscribedText: res.TranscribedText,
		ResponseText:    res.ResponseText,
	})
}

// /api/voice/history/{user_id}
func (s *Server) handleVoiceHistory(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/voice/history/")
	if raw == "" || strings.Contains(raw, "/") {
		http.NotFound(w, r)
		return
	}
	items := make([]historyItem, 0)
	userID, ok := app.ParseUserID(raw)
	if !ok {
		writeJSON(w, http.StatusOK, items)
		return
	}
	turns, err := s.app.VoiceHistory(userID)
	if err != nil {
		writeAppError(w, r, err, "", relayMessages{})
		return
	}
	for _, turn := range turns {
		items = append(items, historyItem{Speaker: turn.Speaker, Text: turn.Text, CreatedAt: turn.CreatedAt})
	}
	writeJSON(w, http.StatusOK, items)
}
