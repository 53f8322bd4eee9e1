// Package session carries explicit per-participant session state.
//
// Nothing here is ambient: tokens and identity travel as values into the
// controller constructors instead of being looked up from global storage.
package session

import "github.com/google/uuid"

// Context is the session state handed to a controller at construction time.
// VisitorToken and AgentToken are deliberately distinct fields: an agent's
// credential is never reused for a visitor connection, and vice versa.
type Context struct {
	// BrokerURL is the broker endpoint, e.g. "ws://localhost:8080".
	BrokerURL string

	// UserName is the display name announced with hand-off requests.
	UserName string

	// VisitorToken, when set, is attached to visitor connections.
	// The broker cannot verify it; it simply travels with the handshake.
	VisitorToken string

	// AgentToken, when set, is attached to agent connections and checked
	// against the broker's agent directory.
	AgentToken string
}

// NewRoomID mints the opaque room token for one visitor session: a
// cryptographically random UUID, generated once at widget mount, never
// persisted, never reused across page sessions.
func NewRoomID() string {
	return uuid.NewString()
}
