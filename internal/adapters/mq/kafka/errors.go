package kafka

import "errors"

// Sentinel errors for consumer construction and decoding.
var (
	ErrNoBrokers = errors.New("at least one broker is required")
	ErrNoTopic   = errors.New("topic must not be empty")
	ErrNoGroup   = errors.New("consumer group must not be empty")
	ErrDecode    = errors.New("undecodable event message")
)
