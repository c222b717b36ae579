package queue

import "errors"

// ErrClosed is returned when a barrier is requested on a closed queue.
var ErrClosed = errors.New("queue closed")
