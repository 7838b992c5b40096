package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded          DocumentStatus = "uploaded"
	StatusPendingAI         DocumentStatus = "pending_ai"
	StatusProcessedAI       DocumentStatus = "processed_ai"
	StatusAIFailed          DocumentStatus = "ai_failed"
	StatusAIConnectionError DocumentStatus = "ai_connection_error"
	StatusAIProcessError    DocumentStatus = "ai_process_error"
)

// Valid reports whether s is one of the known document statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusPendingAI, StatusProcessedAI,
		StatusAIFailed, StatusAIConnectionError, StatusAIProcessError:
		return true
	}
	return false
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type User struct {
	ID              uint       `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Document struct {
	ID        uint           `json:"id"`
	UserID    *uint          `json:"user_id"`
	Name      string         `json:"name"`
	FilePath  string         `json:"file_path"`
	Summary   *string        `json:"summary"`
	Status    DocumentStatus `json:"status"`
	Category  *string        `json:"category"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Voice is one conversation turn.
type Voice struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	AudioPath *string   `json:"audio_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryMessage is the role/content pair sent to the relay for context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
