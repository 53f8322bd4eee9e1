package broker

import "strings"

// Responder produces bot replies for visitor messages in unclaimed rooms.
// The real support bot lives behind a backend service; this interface keeps the
// broker decoupled from whichever implementation is wired in.
type Responder interface {
	// Reply returns a bot answer for the given visitor text.
	// ok=false suppresses the reply entirely.
	Reply(roomID, text string) (reply string, ok bool)
}

// CannedResponder is a small keyword-driven Responder used when no external
// bot backend is configured.
type CannedResponder struct{}

// Reply implements Responder.
func (CannedResponder) Reply(_, text string) (string, bool) {
	t := strings.ToLower(text)

	switch {
	case strings.Contains(t, "hello"), strings.Contains(t, "hi"):
		return "Hello! How can I help you today?", true
	case strings.Contains(t, "job"), strings.Contains(t, "apply"):
		return "You can browse open positions from the job board. Anything specific you are looking for?", true
	case strings.Contains(t, "resume"), strings.Contains(t, "cv"):
		return "Resumes can be managed from your profile page. Would you like to talk to a person about it?", true
	case strings.Contains(t, "agent"), strings.Contains(t, "human"), strings.Contains(t, "person"):
		return "If you'd like to talk to a human agent, use the hand-off button and someone will join shortly.", true
	default:
		return "I'm not sure about that. You can request a human agent at any time.", true
	}
}
