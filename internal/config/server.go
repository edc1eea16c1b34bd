package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Default server configuration values
const (
	DefaultAddr           = ":8080"
	DefaultReservationTTL = 30 * time.Second
	DefaultSendBuffer     = 256
)

// ServerConfig holds signaling server configuration
type ServerConfig struct {
	// Addr is the listen address
	Addr string

	// AllowedOrigins restricts browser websocket upgrades; empty allows all
	AllowedOrigins []string

	// ReservationTTL releases a match that never sees an offer
	ReservationTTL time.Duration

	// SendBuffer is the per-connection outbound queue length
	SendBuffer int
}

// ServerOptions carries CLI flag overrides for LoadServer.
type ServerOptions struct {
	Addr           string
	AllowedOrigins string
	ReservationTTL time.Duration
	SendBuffer     int
}

// LoadServer resolves server configuration: CLI flag > env > default.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Addr:           pick(opts.Addr, "SHUFFLE_ADDR", DefaultAddr),
		AllowedOrigins: splitList(pick(opts.AllowedOrigins, "SHUFFLE_ALLOWED_ORIGINS", "")),
	}

	// Fall back to PORT as set by hosting platforms
	if opts.Addr == "" && os.Getenv("SHUFFLE_ADDR") == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Addr = ":" + port
		}
	}

	var err error
	if cfg.ReservationTTL, err = pickDuration(opts.ReservationTTL, "SHUFFLE_RESERVATION_TTL", DefaultReservationTTL); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = pickInt(opts.SendBuffer, "SHUFFLE_SEND_BUFFER", DefaultSendBuffer); err != nil {
		return nil, err
	}
	if cfg.SendBuffer < 1 {
		return nil, fmt.Errorf("send buffer must be at least 1, got %d", cfg.SendBuffer)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
