package fusion

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewID returns a short random identifier for a child path segment.
func NewID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
