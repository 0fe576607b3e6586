// Package ids generates the identifiers carried by envelopes and log messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a random (version 4) UUID string. Envelope identifiers
// must be unique for the lifetime of a session, so no time component is used.
func NewEventID() string {
	return uuid.NewString()
}

// CreateULID returns a time-sortable ULID used for log message UUIDs and
// correlation identifiers.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
