package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"docassist/pkg/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51904417

// GormStore implements Store and TokenStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}, &VoiceModel{}, &AccessTokenModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database reachability.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a user. A unique email violation maps to ErrDuplicateEmail.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateDocument inserts a document row.
func (s *GormStore) CreateDocument(d domain.Document) (domain.Document, error) {
	model := documentToModel(d)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

// UpdateDocumentOutcome applies the relay outcome and returns the fresh row.
func (s *GormStore) UpdateDocumentOutcome(id uint, outcome DocumentOutcome) (domain.Document, error) {
	updates := map[string]any{
		"status":     string(outcome.Status),
		"updated_at": time.Now().UTC(),
	}
	if outcome.SetSummary {
		updates["summary"] = outcome.Summary
	}
	if len(outcome.AIResponse) > 0 {
		updates["ai_response"] = datatypes.JSON(outcome.AIResponse)
	}
	var model DocumentModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DocumentModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id uint) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// AppendVoiceTurns inserts all turns in one transaction, in order.
func (s *GormStore) AppendVoiceTurns(turns ...domain.Voice) ([]domain.Voice, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	out := make([]domain.Voice, 0, len(turns))
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, turn := range turns {
			model := voiceToModel(turn)
			if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
				return err
			}
			out = append(out, voiceFromModel(model))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListVoicesByUser returns the user's turns oldest first.
func (s *GormStore) ListVoicesByUser(userID uint) ([]domain.Voice, error) {
	var models []VoiceModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Voice, 0, len(models))
	for _, m := range models {
		res = append(res, voiceFromModel(m))
	}
	return res, nil
}

// IssueToken persists a hashed token and returns "<id>|<secret>".
func (s *GormStore) IssueToken(userID uint) (string, error) {
	secret, err := newTokenSecret()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	model := AccessTokenModel{
		UserID:    userID,
		Name:      AccessTokenName,
		TokenHash: hashTokenSecret(secret),
	}
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return "", err
	}
	return plainToken(model.ID, secret), nil
}

// UserIDByToken resolves a plain token and stamps last_used_at.
func (s *GormStore) UserIDByToken(token string) (uint, bool, error) {
	model, ok, err := s.findToken(token)
	if err != nil || !ok {
		return 0, false, err
	}
	now := time.Now().UTC()
	if err := s.db.Model(&AccessTokenModel{}).Where("id = ?", model.ID).Update("last_used_at", now).Error; err != nil {
		return 0, false, err
	}
	return model.UserID, true, nil
}

// RevokeToken deletes the presented token only.
func (s *GormStore) RevokeToken(token string) error {
	model, ok, err := s.findToken(token)
	if err != nil || !ok {
		return err
	}
	return s.db.Delete(&AccessTokenModel{}, "id = ?", model.ID).Error
}

func (s *GormStore) findToken(token string) (AccessTokenModel, bool, error) {
	id, hasID, secret := splitPlainToken(token)
	if secret == "" {
		return AccessTokenModel{}, false, nil
	}
	var model AccessTokenModel
	var err error
	if hasID {
		err = s.db.First(&model, "id = ?", id).Error
	} else {
		err = s.db.Where("token_hash = ?", hashTokenSecret(secret)).First(&model).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AccessTokenModel{}, false, nil
		}
		return AccessTokenModel{}, false, err
	}
	if !tokenHashMatches(model.TokenHash, secret) {
		return AccessTokenModel{}, false, nil
	}
	return model, true, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:              m.ID,
		Name:            m.Name,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		EmailVerifiedAt: m.EmailVerifiedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	status := d.Status
	if status == "" {
		status = domain.StatusUploaded
	}
	return DocumentModel{
		ID:        d.ID,
		UserID:    d.UserID,
		Name:      d.Name,
		FilePath:  d.FilePath,
		Summary:   d.Summary,
		Status:    string(status),
		Category:  d.Category,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		FilePath:  m.FilePath,
		Summary:   m.Summary,
		Status:    domain.DocumentStatus(m.Status),
		Category:  m.Category,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func voiceToModel(v domain.Voice) VoiceModel {
	return VoiceModel{
		ID:        v.ID,
		UserID:    v.UserID,
		Speaker:   string(v.Speaker),
		Text:      v.Text,
		AudioPath: v.AudioPath,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

func voiceFromModel(m VoiceModel) domain.Voice {
	return domain.Voice{
		ID:        m.ID,
		UserID:    m.UserID,
		Speaker:   domain.Speaker(m.Speaker),
		Text:      m.Text,
		AudioPath: m.AudioPath,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
