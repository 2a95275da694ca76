package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// RateLimitRPS is the sustained request rate the server accepts. Zero disables rate limiting.
	RateLimitRPS float64 `env:"HTTP_RATE_LIMIT_RPS" envDefault:"0"`

	// RateLimitBurst is the burst size allowed above RateLimitRPS.
	RateLimitBurst int `env:"HTTP_RATE_LIMIT_BURST" envDefault:"20"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.RateLimitRPS < 0 {
		h.RateLimitRPS = 0
	}
	if h.RateLimitBurst < 1 {
		h.RateLimitBurst = 1
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

// RateLimitEnabled reports whether the rate limit middleware should be installed.
func (h *HTTPConfig) RateLimitEnabled() bool {
	return h.RateLimitRPS > 0
}
