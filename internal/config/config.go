package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the room client backend.
type Config struct {
	Room    RoomConfig
	Session SessionConfig
	Network NetworkConfig
}

type RoomConfig struct {
	// URL is the default room server; Connect may override it per call.
	URL         string
	JoinTimeout time.Duration
}

type SessionConfig struct {
	TranscriptLimit int
	MaxReconnects   int
	LevelThreshold  float64
	LevelInterval   time.Duration
	SettleDelay     time.Duration
	DeviceDebounce  time.Duration
	SubtitleClear   time.Duration
}

type NetworkConfig struct {
	ProbeAddr     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Load resolves configuration from environment variables and sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Room: RoomConfig{
			URL:         envOrDefault("HOTLINE_ROOM_URL", "wss://rooms.hotline.dev"),
			JoinTimeout: millis("HOTLINE_JOIN_TIMEOUT_MS", 10000),
		},
		Session: SessionConfig{
			TranscriptLimit: envOrDefaultInt("HOTLINE_TRANSCRIPT_LIMIT", 200),
			MaxReconnects:   envOrDefaultInt("HOTLINE_RECONNECT_ATTEMPTS", 5),
			LevelThreshold:  envOrDefaultFloat("HOTLINE_LEVEL_THRESHOLD", 0.05),
			LevelInterval:   millis("HOTLINE_LEVEL_INTERVAL_MS", 100),
			SettleDelay:     millis("HOTLINE_SETTLE_MS", 500),
			DeviceDebounce:  millis("HOTLINE_DEVICE_DEBOUNCE_MS", 1000),
			SubtitleClear:   millis("HOTLINE_SUBTITLE_CLEAR_MS", 3000),
		},
		Network: NetworkConfig{
			ProbeAddr:     envOrDefault("HOTLINE_PROBE_ADDR", "1.1.1.1:443"),
			ProbeInterval: millis("HOTLINE_PROBE_INTERVAL_MS", 3000),
			ProbeTimeout:  millis("HOTLINE_PROBE_TIMEOUT_MS", 2000),
		},
	}

	if cfg.Session.TranscriptLimit <= 0 {
		cfg.Session.TranscriptLimit = 200
	}
	if cfg.Session.MaxReconnects <= 0 {
		cfg.Session.MaxReconnects = 5
	}
	if cfg.Session.LevelThreshold <= 0 {
		cfg.Session.LevelThreshold = 0.05
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func millis(key string, fallback int) time.Duration {
	parsed := envOrDefaultInt(key, fallback)
	if parsed < 0 {
		parsed = fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
