package dnc

import (
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

// Config holds the orchestrator settings. Zero values fall back to defaults.
type Config struct {
	// BlacklistTTL is how long a company blacklist verdict stays fresh.
	BlacklistTTL time.Duration `json:"blacklist_ttl"`
	// NationalTTL is how long a national registry verdict stays fresh.
	NationalTTL time.Duration `json:"national_ttl"`
	// CacheTimeout bounds each cache read and write.
	CacheTimeout time.Duration `json:"cache_timeout"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		BlacklistTTL: dnc.DefaultTTL,
		NationalTTL:  dnc.DefaultTTL,
		CacheTimeout: 2 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.BlacklistTTL <= 0 {
		out.BlacklistTTL = dnc.DefaultTTL
	}
	if out.NationalTTL <= 0 {
		out.NationalTTL = dnc.DefaultTTL
	}
	if out.CacheTimeout <= 0 {
		out.CacheTimeout = 2 * time.Second
	}
	return &out
}
