package occupancy

import "github.com/okian/dwell/pkg/logger"

// Option configures a View.
type Option func(*View)

// WithLogger sets the logger used for dropped events and query diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(v *View) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithStateKey sets the argument key that carries the state label of sample events.
func WithStateKey(key string) Option {
	return func(v *View) {
		if key != "" {
			v.stateKey = key
		}
	}
}
