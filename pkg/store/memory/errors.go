package memory

import "errors"

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("memory store closed")
