package replay

import (
	"net/http"
	"time"

	"github.com/okian/dwell/pkg/logger"
)

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithTolerance sets the allowed absolute ratio error.
func WithTolerance(tol float64) Option {
	return func(r *Runner) {
		if tol >= 0 {
			r.tolerance = tol
		}
	}
}

// WithBase sets the time scenarios without their own base start from.
func WithBase(t time.Time) Option {
	return func(r *Runner) {
		if !t.IsZero() {
			r.base = t
		}
	}
}

// WithStateKey sets the argument key sample events carry their state in.
func WithStateKey(key string) Option {
	return func(r *Runner) {
		if key != "" {
			r.stateKey = key
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}
