package main

import (
	"log"
	"log/slog"
	"time"

	"docassist/internal/util"
	"docassist/pkg/store"
	"docassist/services/api/internal/config"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	res, err := seed(st, time.Now().UTC())
	if err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	if !res.Created {
		slog.Info("demo user already present, nothing seeded", "user_id", res.User.ID)
		return
	}
	slog.Info("seeded demo data", "user_id", res.User.ID, "email", res.User.Email, "documents", res.Documents, "voice_turns", res.Turns)
}
