package broker

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a ULID used as a connection session id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewSessionID(now time.Time) (string, error) {
	return newULID(now)
}

// NewFrameID returns a ULID used as a server-generated frame id.
func NewFrameID(now time.Time) (string, error) {
	return newULID(now)
}

func newULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
