package httpapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// MaxMessageChars bounds message text length (runes).
	MaxMessageChars int

	// MaxImageBytes bounds the decoded size of an inline image reference.
	MaxImageBytes int64

	// SignupEnabled allows disabling open registration.
	SignupEnabled bool

	LoginIPMax    int
	LoginIPWindow time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:      envBool("RIPPLE_API_TRUST_PROXY", false),
		MaxBodyBytes:    envInt64("RIPPLE_API_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxMessageChars: envInt("RIPPLE_API_MAX_MESSAGE_CHARS", 4000),
		MaxImageBytes:   envInt64("RIPPLE_API_MAX_IMAGE_BYTES", 5<<20), // 5 MiB
		SignupEnabled:   envBool("RIPPLE_API_SIGNUP_ENABLED", true),
		LoginIPMax:      envInt("RIPPLE_API_LOGIN_IP_MAX", 20),
		LoginIPWindow:   envDuration("RIPPLE_API_LOGIN_IP_WINDOW", 5*time.Minute),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 4000
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
