package common

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NewRunID generates a unique run identifier.
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewOriginatorID generates a random positive originator ID for event
// envelopes. Uniqueness within a run is all that is needed.
func NewOriginatorID() int64 {
	id := uuid.New()
	n := int64(binary.BigEndian.Uint64(id[:8]) >> 1)
	if n == 0 {
		n = 1
	}
	return n
}
