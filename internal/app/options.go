package service

import (
	"strings"

	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the maximum number of queued events.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many delivery IDs are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStateKey sets the argument key carrying sample state labels.
func WithStateKey(key string) Option {
	return func(s *Service) {
		if strings.TrimSpace(key) != "" {
			s.stateKey = key
		}
	}
}

// WithOffsets sets the per-kind timestamp corrections in seconds.
func WithOffsets(offsets map[string]float64) Option {
	return func(s *Service) {
		s.offsets = model.Offsets{}.Merge(offsets)
	}
}

// WithDefaultStates sets the states queried when a caller names none.
func WithDefaultStates(states []string) Option {
	return func(s *Service) {
		if len(states) > 0 {
			s.defaultStates = append([]string(nil), states...)
		}
	}
}
