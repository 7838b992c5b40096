package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"docassist/internal/util"
	"docassist/pkg/domain"
	"docassist/pkg/storage"
	"docassist/services/api/internal/relayclient"
)

// VoiceInput is a validated voice upload. UserID is the client-supplied
// conversation owner; CallerID is the authenticated user.
type VoiceInput struct {
	CallerID    uint
	UserID      string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// VoiceResult is the transcription and the assistant's reply.
type VoiceResult struct {
	TranscribedText string
	ResponseText    string
}

// ParseUserID parses a conversation owner id as given in a request.
func ParseUserID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ProcessVoice stores the audio, transcribes it, asks the relay for a reply
// with the prior conversation and then records both turns. Nothing is
// written to the conversation unless both relay calls succeed.
func (a *App) ProcessVoice(ctx context.Context, in VoiceInput) (VoiceResult, error) {
	logger := util.LoggerFromContext(ctx)
	ownerID, ok := ParseUserID(in.UserID)
	if !ok {
		return VoiceResult{}, fieldError("user_id", MsgUserIDMalformed, nil)
	}
	if a.voiceEnforceOwner && ownerID != in.CallerID {
		return VoiceResult{}, ErrForbidden
	}
	if _, found, err := a.store.GetUserByID(ownerID); err != nil {
		return VoiceResult{}, fmt.Errorf("fetch user: %w", err)
	} else if !found {
		return VoiceResult{}, fieldError("user_id", MsgUserIDInvalid, nil)
	}

	audio, err := io.ReadAll(in.Body)
	if err != nil {
		return VoiceResult{}, fmt.Errorf("read audio: %w", err)
	}
	key := storage.NewKey(storage.KindVoices, in.Filename)
	if err := a.blobs.Put(ctx, key, bytes.NewReader(audio), int64(len(audio)), in.ContentType); err != nil {
		return VoiceResult{}, fmt.Errorf("store audio: %w", err)
	}
	logger.Info("voice_stored", "user_id", ownerID, "file_path", key)

	relayCtx := context.WithoutCancel(ctx)
	transcribed, err := a.relay.Transcribe(relayCtx, in.Filename, bytes.NewReader(audio))
	if err != nil {
		relayErr := classifyRelayError("transcribe", err)
		logger.Error("voice_transcribe_failed", "user_id", ownerID, "kind", relayErr.Kind.String(), "err", err)
		return VoiceResult{}, relayErr
	}

	turns, err := a.store.ListVoicesByUser(ownerID)
	if err != nil {
		return VoiceResult{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]domain.HistoryMessage, 0, len(turns))
	for _, turn := range turns {
		role := "assistant"
		if turn.Speaker == domain.SpeakerUser {
			role = "user"
		}
		history = append(history, domain.HistoryMessage{Role: role, Content: turn.Text})
	}

	reply, err := a.relay.Respond(relayCtx, relayclient.RespondRequest{
		UserID:              strings.TrimSpace(in.UserID),
		Prompt:              transcribed,
		ConversationHistory: history,
	})
	if err != nil {
		relayErr := classifyRelayError("respond", err)
		logger.Error("voice_respond_failed", "user_id", ownerID, "kind", relayErr.Kind.String(), "err", err)
		return VoiceResult{}, relayErr
	}

	audioPath := key
	if _, err := a.store.AppendVoiceTurns(
		domain.Voice{UserID: ownerID, Speaker: domain.SpeakerUser, Text: transcribed, AudioPath: &audioPath},
		domain.Voice{UserID: ownerID, Speaker: domain.SpeakerAssistant, Text: reply},
	); err != nil {
		return VoiceResult{}, fmt.Errorf("save conversation: %w", err)
	}
	logger.Info("voice_processed", "user_id", ownerID, "history_turns", len(history))
	return VoiceResult{TranscribedText: transcribed, ResponseText: reply}, nil
}

// VoiceHistory returns every turn for the user in conversation order.
func (a *App) VoiceHistory(userID uint) ([]domain.Voice, error) {
	turns, err := a.store.ListVoicesByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return turns, nil
}
