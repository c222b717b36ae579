package kafka

import "github.com/okian/dwell/pkg/logger"

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}
