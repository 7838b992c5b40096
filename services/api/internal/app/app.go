package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docassist/pkg/store"
	"docassist/pkg/storage"
	"docassist/services/api/internal/relayclient"
)

// Token strategies.
const (
	TokensDatabase = "database"
	TokensRedis    = "redis"
	TokensJWT      = "jwt"
)

// Storage drivers.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageS3    = "s3"
)

// Relay is the subset of the AI orchestrator the app calls.
type Relay interface {
	ProcessDocument(ctx context.Context, in relayclient.UploadRequest) (relayclient.UploadResult, error)
	Search(ctx context.Context, query string) (json.RawMessage, error)
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
	Respond(ctx context.Context, in relayclient.RespondRequest) (string, error)
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Driver        string
	LocalDir      string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	UsePathStyle  bool
	PresignExpiry time.Duration
}

// Config holds runtime configuration for the core application.
// Store, Tokens, Blobs and Relay override the configured backends.
type Config struct {
	DatabaseURL       string
	Redis             redis.UniversalClient
	TokenStrategy     string
	TokenTTL          time.Duration
	JWTSecret         string
	Storage           StorageConfig
	RelayURL          string
	RelayTokens       relayclient.TokenSource
	VoiceEnforceOwner bool

	Store  store.Store
	Tokens store.TokenStore
	Blobs  storage.BlobStore
	Relay  Relay
}

// App wires persistence, blob storage and the relay behind the API operations.
type App struct {
	store             store.Store
	tokens            store.TokenStore
	blobs             storage.BlobStore
	relay             Relay
	voiceEnforceOwner bool
	now               func() time.Time
}

// New constructs the application from cfg.
func New(cfg Config) (*App, error) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	var err error
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens, err = newTokenStore(cfg, dataStore)
		if err != nil {
			return nil, err
		}
	}

	blobs := cfg.Blobs
	if blobs == nil {
		blobs, err = newBlobStore(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init %s storage: %w", cfg.Storage.Driver, err)
		}
	}

	relay := cfg.Relay
	if relay == nil {
		if strings.TrimSpace(cfg.RelayURL) == "" {
			return nil, fmt.Errorf("relay URL required")
		}
		relay = relayclient.NewClient(relayclient.Config{BaseURL: cfg.RelayURL, Tokens: cfg.RelayTokens})
	}

	return &App{
		store:             dataStore,
		tokens:            tokens,
		blobs:             blobs,
		relay:             relay,
		voiceEnforceOwner: cfg.VoiceEnforceOwner,
		now:               time.Now,
	}, nil
}

func newTokenStore(cfg Config, dataStore store.Store) (store.TokenStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TokenStrategy)) {
	case "", TokensDatabase:
		tokens, ok := dataStore.(store.TokenStore)
		if !ok {
			return nil, fmt.Errorf("store %T cannot issue database tokens", dataStore)
		}
		return tokens, nil
	case TokensRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis token strategy requires redis")
		}
		return store.NewRedisTokenStore(cfg.Redis, "", cfg.TokenTTL), nil
	case TokensJWT:
		var revoker store.TokenRevoker
		if cfg.Redis != nil {
			revoker = store.NewRedisTokenRevoker(cfg.Redis, "")
		}
		tokens, err := store.NewJWTTokenStore(cfg.JWTSecret, cfg.TokenTTL, revoker, store.JWTOptions{})
		if err != nil {
			return nil, fmt.Errorf("init jwt tokens: %w", err)
		}
		return tokens, nil
	default:
		return nil, fmt.Errorf("unknown token strategy %q", cfg.TokenStrategy)
	}
}

func newBlobStore(cfg StorageConfig) (storage.BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", StorageLocal:
		return storage.NewLocalStore(cfg.LocalDir)
	case StorageMinio:
		return storage.NewMinioStore(storage.MinioOptions{
			Endpoint:      cfg.Endpoint,
			Region:        cfg.Region,
			AccessKey:     cfg.AccessKey,
			SecretKey:     cfg.SecretKey,
			Bucket:        cfg.Bucket,
			UseSSL:        cfg.UseSSL,
			PresignExpiry: cfg.PresignExpiry,
		})
	case StorageS3:
		return storage.NewS3Store(storage.S3Options{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Bucket:          cfg.Bucket,
			UsePathStyle:    cfg.UsePathStyle,
			PresignExpiry:   cfg.PresignExpiry,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases the backing store when it holds resources.
func (a *App) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Ping checks the backing store when it supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
