package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:255;not null"`
	Email           string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash    string `gorm:"not null"`
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type DocumentModel struct {
	ID         uint           `gorm:"primaryKey"`
	UserID     *uint          `gorm:"index"`
	User       *UserModel     `gorm:"constraint:OnDelete:SET NULL"`
	Name       string         `gorm:"size:255;not null"`
	FilePath   string         `gorm:"size:512;not null"`
	Summary    *string        `gorm:"type:text"`
	Status     string         `gorm:"size:32;not null;default:uploaded"`
	Category   *string        `gorm:"size:255"`
	AIResponse datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

type VoiceModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index:idx_voices_user_created,priority:1"`
	User      UserModel `gorm:"constraint:OnDelete:CASCADE"`
	Speaker   string    `gorm:"size:16;not null"`
	Text      string    `gorm:"type:text;not null"`
	AudioPath *string   `gorm:"size:512"`
	CreatedAt time.Time `gorm:"not null;index:idx_voices_user_created,priority:2"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (VoiceModel) TableName() string { return "voices" }

type AccessTokenModel struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;index"`
	User       UserModel `gorm:"constraint:OnDelete:CASCADE"`
	Name       string    `gorm:"size:255;not null"`
	TokenHash  string    `gorm:"size:64;uniqueIndex;not null"`
	LastUsedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (AccessTokenModel) TableName() string { return "personal_access_tokens" }
