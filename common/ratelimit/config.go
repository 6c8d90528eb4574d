package ratelimit

import (
	"fmt"
	"time"

	"github.com/lyzr/datavault/common/config"
	"github.com/lyzr/datavault/common/did"
)

// Policy is a request budget per fixed window
type Policy struct {
	Limit         int64 // Requests allowed per window
	WindowSeconds int   // Time window in seconds
}

// DefaultWindow is used when the configured window is shorter than a second
const DefaultWindow = time.Minute

// PoliciesFromConfig builds the global and per-owner policies
func PoliciesFromConfig(cfg config.RateLimitConfig) (global Policy, perDID Policy) {
	window := cfg.Window
	if window < time.Second {
		window = DefaultWindow
	}
	seconds := int(window / time.Second)

	return Policy{Limit: cfg.Global, WindowSeconds: seconds},
		Policy{Limit: cfg.PerDID, WindowSeconds: seconds}
}

// GlobalKey is the counter key for the service-wide limit
func GlobalKey() string {
	return "rate_limit:global"
}

// DIDKey is the counter key for one owner. DIDs are compared case-insensitively.
func DIDKey(owner string) string {
	return fmt.Sprintf("rate_limit:did:%s", did.Normalize(owner))
}
