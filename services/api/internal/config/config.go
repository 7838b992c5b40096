package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; CONFIG_PATH overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port            string `yaml:"port"`
	LogLevel        string `yaml:"logLevel"`
	MaxConnections  int    `yaml:"maxConnections"`
	ShutdownTimeout string `yaml:"shutdownTimeout"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	TokenStrategy string `yaml:"tokenStrategy"`
	SessionTTL    string `yaml:"sessionTTL"`
	JWTSecret     string `yaml:"jwtSecret"`

	StorageDriver        string `yaml:"storageDriver"`
	DataDir              string `yaml:"dataDir"`
	StorageEndpoint      string `yaml:"storageEndpoint"`
	StorageRegion        string `yaml:"storageRegion"`
	StorageAccessKey     string `yaml:"storageAccessKey"`
	StorageSecretKey     string `yaml:"storageSecretKey"`
	StorageBucket        string `yaml:"storageBucket"`
	StorageUseSSL        bool   `yaml:"storageUseSSL"`
	StoragePathStyle     bool   `yaml:"storagePathStyle"`
	StoragePresignExpiry string `yaml:"storagePresignExpiry"`

	AIOrchestratorURL   string `yaml:"aiOrchestratorURL"`
	RelayPrivateKeyPath string `yaml:"relayPrivateKeyPath"`
	RelayKeyID          string `yaml:"relayKeyId"`
	RelayTokenTTL       string `yaml:"relayTokenTTL"`

	CORSAllowedOrigins         []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	MaxUploadBytes             int64    `yaml:"maxUploadBytes"`
	VoiceEnforceOwner          bool     `yaml:"voiceEnforceOwner"`
}

// Load reads config from path (CONFIG_PATH wins, then path, then
// config.yaml). A .env file (ENV_FILE, default ".env") is loaded first
// without overriding variables already set. A missing default config file
// is tolerated so the service can run from the environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load %s: %w", envFile, err)
	}

	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == ConfigPath:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setInt(&cfg.MaxConnections, "MAX_CONNECTIONS")
	setString(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.TokenStrategy, "TOKEN_STRATEGY")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.StorageDriver, "STORAGE_DRIVER")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.StorageEndpoint, "STORAGE_ENDPOINT")
	setString(&cfg.StorageRegion, "STORAGE_REGION")
	setString(&cfg.StorageAccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.StorageSecretKey, "STORAGE_SECRET_KEY")
	setString(&cfg.StorageBucket, "STORAGE_BUCKET")
	setBool(&cfg.StorageUseSSL, "STORAGE_USE_SSL")
	setBool(&cfg.StoragePathStyle, "STORAGE_PATH_STYLE")
	setString(&cfg.StoragePresignExpiry, "STORAGE_PRESIGN_EXPIRY")
	setString(&cfg.AIOrchestratorURL, "AI_ORCHESTRATOR_URL")
	setString(&cfg.RelayPrivateKeyPath, "RELAY_PRIVATE_KEY_PATH")
	setString(&cfg.RelayKeyID, "RELAY_KEY_ID")
	setString(&cfg.RelayTokenTTL, "RELAY_TOKEN_TTL")
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt(&cfg.RegisterRateLimitPerMinute, "REGISTER_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.LoginRateLimitPerMinute, "LOGIN_RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setBool(&cfg.VoiceEnforceOwner, "VOICE_ENFORCE_OWNER")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.TokenStrategy == "" {
		cfg.TokenStrategy = "database"
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "local"
	}
	if cfg.DataDir == "" && cfg.StorageDriver == "local" {
		cfg.DataDir = "data"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.AIOrchestratorURL) == "" {
		return errors.New("config: aiOrchestratorURL is required (set in config.yaml or AI_ORCHESTRATOR_URL)")
	}
	switch strings.ToLower(cfg.TokenStrategy) {
	case "database":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for tokenStrategy redis")
		}
	case "jwt":
		if len(cfg.JWTSecret) < 32 {
			return errors.New("config: jwtSecret must be at least 32 bytes for tokenStrategy jwt")
		}
	default:
		return fmt.Errorf("config: unknown tokenStrategy %q (database, redis or jwt)", cfg.TokenStrategy)
	}
	switch strings.ToLower(cfg.StorageDriver) {
	case "local":
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for storageDriver local")
		}
	case "minio", "s3":
		if strings.TrimSpace(cfg.StorageBucket) == "" {
			return fmt.Errorf("config: storageBucket is required for storageDriver %s", cfg.StorageDriver)
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q (local, minio or s3)", cfg.StorageDriver)
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxConnections < 0 || cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxConnections and maxUploadBytes must be >= 0")
	}
	for name, v := range map[string]string{
		"sessionTTL":           cfg.SessionTTL,
		"shutdownTimeout":      cfg.ShutdownTimeout,
		"storagePresignExpiry": cfg.StoragePresignExpiry,
		"relayTokenTTL":        cfg.RelayTokenTTL,
	} {
		if _, err := ParseDuration(name, v); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseSessionTTL parses the optional token lifetime (default 24h).
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 24 * time.Hour, nil
	}
	return ParseDuration("sessionTTL", ttlStr)
}

// ParseDuration parses an optional positive duration; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}
