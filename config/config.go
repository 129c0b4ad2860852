package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime knob of the relay. Values come from the
// environment (a .env file is loaded by main) and fall back to the defaults
// below when unset or unparseable.
type Config struct {
	Port string

	// KeepAliveInterval is the monitor tick: liveness probes, rate-limit
	// window resets, and userlist pushes all run on it.
	KeepAliveInterval time.Duration

	// MaxPacketsPerInterval is the soft per-window packet cap. Crossing it
	// earns one 429 warning; reaching twice the cap by the next tick gets
	// the connection closed.
	MaxPacketsPerInterval int

	MaxPacketBytes   int
	MaxUsernameBytes int

	AllowUsernameChange     bool
	AllowRoomChange         bool
	AllowCrossRoomMessaging bool

	AuthEnabled bool
	AuthURL     string
	AuthTimeout time.Duration
}

func Default() Config {
	return Config{
		Port:                  "1958",
		KeepAliveInterval:     10 * time.Second,
		MaxPacketsPerInterval: 750,
		MaxPacketBytes:        2500,
		MaxUsernameBytes:      200,
		AuthURL:               "http://localhost:9846/v1/auth-token",
		AuthTimeout:           5 * time.Second,
	}
}

// FromEnv builds a Config from environment variables, starting from the
// defaults. Invalid or non-positive values keep the default.
func FromEnv() Config {
	cfg := Default()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.KeepAliveInterval = durationEnv("KEEPALIVE_INTERVAL", cfg.KeepAliveInterval)
	cfg.MaxPacketsPerInterval = intEnv("MAX_PACKETS_PER_INTERVAL", cfg.MaxPacketsPerInterval)
	cfg.MaxPacketBytes = intEnv("MAX_PACKET_SIZE", cfg.MaxPacketBytes)
	cfg.MaxUsernameBytes = intEnv("MAX_USERNAME_SIZE", cfg.MaxUsernameBytes)

	cfg.AllowUsernameChange = boolEnv("ALLOW_USERNAME_CHANGE", cfg.AllowUsernameChange)
	cfg.AllowRoomChange = boolEnv("ALLOW_ROOM_CHANGE", cfg.AllowRoomChange)
	cfg.AllowCrossRoomMessaging = boolEnv("ALLOW_CROSS_ROOM_MESSAGING", cfg.AllowCrossRoomMessaging)

	cfg.AuthEnabled = boolEnv("AUTH_ENABLED", cfg.AuthEnabled)
	if url := os.Getenv("AUTH_URL"); url != "" {
		cfg.AuthURL = url
	}
	cfg.AuthTimeout = durationEnv("AUTH_TIMEOUT", cfg.AuthTimeout)

	return cfg
}

func intEnv(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}
