package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"docassist/internal/relayauth"
	"docassist/internal/util"
	"docassist/services/api/internal/app"
	"docassist/services/api/internal/config"
	"docassist/services/api/internal/relayclient"
	"docassist/services/api/internal/server"
)

const defaultShutdownTimeout = 10 * time.Second

// writeTimeout covers the slowest handler: reading the upload plus the
// voice transcribe and respond relay calls back to back.
const writeTimeout = relayclient.TranscribeTimeout + relayclient.RespondTimeout + 2*time.Minute

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	presignExpiry, err := config.ParseDuration("storagePresignExpiry", cfg.StoragePresignExpiry)
	if err != nil {
		log.Fatalf("failed to parse presign expiry: %v", err)
	}
	relayTokenTTL, err := config.ParseDuration("relayTokenTTL", cfg.RelayTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse relay token TTL: %v", err)
	}
	shutdownTimeout, err := config.ParseDuration("shutdownTimeout", cfg.ShutdownTimeout)
	if err != nil {
		log.Fatalf("failed to parse shutdown timeout: %v", err)
	}
	if shutdownTimeout == 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	logger := util.InitLogger(cfg.LogLevel)

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	var relayTokens relayclient.TokenSource
	if cfg.RelayPrivateKeyPath != "" {
		signer, err := relayauth.NewSigner(relayauth.Options{
			PrivateKeyPath: cfg.RelayPrivateKeyPath,
			KeyID:          cfg.RelayKeyID,
			TTL:            relayTokenTTL,
		})
		if err != nil {
			log.Fatalf("failed to init relay signer: %v", err)
		}
		relayTokens = signer
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		Redis:         redisClient,
		TokenStrategy: cfg.TokenStrategy,
		TokenTTL:      sessionTTL,
		JWTSecret:     cfg.JWTSecret,
		Storage: app.StorageConfig{
			Driver:        cfg.StorageDriver,
			LocalDir:      cfg.DataDir,
			Endpoint:      cfg.StorageEndpoint,
			Region:        cfg.StorageRegion,
			AccessKey:     cfg.StorageAccessKey,
			SecretKey:     cfg.StorageSecretKey,
			Bucket:        cfg.StorageBucket,
			UseSSL:        cfg.StorageUseSSL,
			UsePathStyle:  cfg.StoragePathStyle,
			PresignExpiry: presignExpiry,
		},
		RelayURL:          cfg.AIOrchestratorURL,
		RelayTokens:       relayTokens,
		VoiceEnforceOwner: cfg.VoiceEnforceOwner,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		CORS:                       util.CORSOptions{AllowedOrigins: cfg.CORSAllowedOrigins},
		TrustedProxies:             trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", addr, err)
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}
	srv := &http.Server{
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "max_connections", cfg.MaxConnections)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
