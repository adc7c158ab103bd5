// Package idgen generates identifiers for stored events and command metadata.
package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MustGenerateSortableID returns a new ULID. ULIDs sort by creation time,
// which keeps event IDs roughly aligned with append order.
func MustGenerateSortableID() string {
	return ulid.Make().String()
}

// NewCorrelationID returns a random UUID for correlating commands and events.
func NewCorrelationID() string {
	return uuid.NewString()
}
