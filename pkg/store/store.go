package store

import (
	"encoding/json"
	"errors"

	"docassist/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a user already exists with the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence operations for users, documents, and voice turns.
type Store interface {
	// users
	CreateUser(domain.User) (domain.User, error)
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id uint) (domain.User, bool, error)

	// documents
	CreateDocument(domain.Document) (domain.Document, error)
	UpdateDocumentOutcome(id uint, outcome DocumentOutcome) (domain.Document, error)
	GetDocument(id uint) (domain.Document, bool, error)

	// voice turns
	AppendVoiceTurns(turns ...domain.Voice) ([]domain.Voice, error)
	ListVoicesByUser(userID uint) ([]domain.Voice, error)
}

// DocumentOutcome is the single status mutation applied after the relay call.
// Summary is written only when SetSummary is true; a nil Summary clears it.
type DocumentOutcome struct {
	Status     domain.DocumentStatus
	Summary    *string
	SetSummary bool
	AIResponse json.RawMessage
}

// TokenStore issues and validates bearer tokens.
// UserIDByToken reports ok=false for unknown, malformed, expired or revoked
// tokens; a non-nil error means the backing store itself failed.
type TokenStore interface {
	IssueToken(userID uint) (string, error)
	UserIDByToken(token string) (uint, bool, error)
	RevokeToken(token string) error
}
