package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default client configuration values
const (
	DefaultServer       = "localhost:8080"
	DefaultCodec        = "json"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultRetryTimeout = 10 * time.Second
	DefaultMaxAttempts  = 3
)

// Config holds client configuration
type Config struct {
	// Server is the signaling server host[:port]
	Server string

	// Secure selects wss:// over ws://
	Secure bool

	// WebSocketURL is constructed from Server and Secure
	WebSocketURL string

	// Codec is the wire codec name, "json" or "msgpack"
	Codec string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN relay candidates
	ForceRelay bool

	// RetryTimeout is how long an offer waits for a connected media path
	RetryTimeout time.Duration

	// MaxAttempts bounds the offer cycles per match
	MaxAttempts int
}

// Options for loading config with CLI flag overrides. Zero values mean the
// flag was not given.
type Options struct {
	Server       string
	Secure       bool
	Codec        string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	RetryTimeout time.Duration
	MaxAttempts  int
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Server:     pick(opts.Server, "SHUFFLE_SERVER", DefaultServer),
		Codec:      strings.ToLower(pick(opts.Codec, "SHUFFLE_CODEC", DefaultCodec)),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
	}

	var err error
	if cfg.Secure, err = pickBool(opts.Secure, "SHUFFLE_SECURE"); err != nil {
		return nil, err
	}
	if cfg.ForceRelay, err = pickBool(opts.ForceRelay, "SHUFFLE_FORCE_RELAY"); err != nil {
		return nil, err
	}
	if cfg.RetryTimeout, err = pickDuration(opts.RetryTimeout, "SHUFFLE_RETRY_TIMEOUT", DefaultRetryTimeout); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = pickInt(opts.MaxAttempts, "SHUFFLE_MAX_ATTEMPTS", DefaultMaxAttempts); err != nil {
		return nil, err
	}

	if cfg.Codec != "json" && cfg.Codec != "msgpack" {
		return nil, fmt.Errorf("unsupported codec %q (want json or msgpack)", cfg.Codec)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}

	// Construct WebSocket URL
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", scheme, cfg.Server)

	return cfg, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. A bare host is
// expanded to the usual udp, tcp and tls endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// pick returns flag, then the environment variable, then def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func pickBool(flag bool, env string) (bool, error) {
	if flag {
		return true, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", env, err)
	}
	return b, nil
}

func pickDuration(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", env, d)
	}
	return d, nil
}

func pickInt(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return n, nil
}
