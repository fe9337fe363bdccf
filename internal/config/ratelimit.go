package config

import "time"

// RateLimitConfig controls the fixed-window limiter applied to the
// register and login endpoints.
type RateLimitConfig struct {
	Enabled bool
	Limit   int           // requests allowed per window, per client
	Window  time.Duration // window length
	Prefix  string        // redis key prefix
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Limit:   envInt("RATE_LIMIT_LIMIT", 30),
		Window:  envDur("RATE_LIMIT_WINDOW", time.Minute),
		Prefix:  envStr("RATE_LIMIT_PREFIX", "rl"),
	}
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return cfg
}
