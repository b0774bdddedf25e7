package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything the process needs at boot. Values come from the
// environment (optionally preloaded from config.env); the store's own
// settings table covers operator-editable knobs.
type Config struct {
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BotToken    string
	AdminChatID int64

	ListenAddr string

	PanelTimeout      time.Duration
	ReferralBonusDays int
	SyncInterval      time.Duration
}

func FromEnv() Config {
	return Config{
		PostgresDSN:       strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		BotToken:          strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		AdminChatID:       int64(envInt("ADMIN_CHAT_ID", 0)),
		ListenAddr:        envString("LISTEN_ADDR", ":8081"),
		PanelTimeout:      envDuration("PANEL_TIMEOUT", 30*time.Second),
		ReferralBonusDays: envInt("REFERRAL_BONUS_DAYS", 7),
		SyncInterval:      envDuration("KEY_SYNC_INTERVAL", time.Hour),
	}
}

func envString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
