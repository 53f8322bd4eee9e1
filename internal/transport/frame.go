package transport

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// newFrameID returns a short random id for client-originated frames.
// Purely diagnostic; the broker does not require frame ids from clients.
func newFrameID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func decodeBody(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
