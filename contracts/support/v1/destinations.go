package v1

import "strings"

// Destination constants and helpers. These names are the wire-level contract:
// /topic/... destinations are broadcast subscriptions, /app/... destinations
// are commands handled by the broker.
const (
	// QueueTopic fans new hand-off requests out to every connected agent console.
	QueueTopic = "/topic/support.queue"

	// HandoffAcceptDest is where an agent publishes a claim for a room.
	HandoffAcceptDest = "/app/support.handoff.accept"

	roomTopicPrefix      = "/topic/rooms/"
	roomSendPrefix       = "/app/support.send/"
	handoffRequestPrefix = "/app/support.handoff/"
)

// RoomTopic returns the conversation stream destination for a room.
func RoomTopic(roomID string) string { return roomTopicPrefix + roomID }

// RoomSendDest returns the publish destination for chat messages into a room.
func RoomSendDest(roomID string) string { return roomSendPrefix + roomID }

// HandoffRequestDest returns the publish destination for a visitor's hand-off request.
func HandoffRequestDest(roomID string) string { return handoffRequestPrefix + roomID }

// RoomFromTopic extracts the room id from a /topic/rooms/{roomId} destination.
func RoomFromTopic(dest string) (string, bool) {
	return cutPrefix(dest, roomTopicPrefix)
}

// RoomFromSendDest extracts the room id from a /app/support.send/{roomId} destination.
func RoomFromSendDest(dest string) (string, bool) {
	return cutPrefix(dest, roomSendPrefix)
}

// RoomFromHandoffDest extracts the room id from a /app/support.handoff/{roomId} destination.
func RoomFromHandoffDest(dest string) (string, bool) {
	return cutPrefix(dest, handoffRequestPrefix)
}

// IsTopic reports whether dest names a broadcast destination.
func IsTopic(dest string) bool { return strings.HasPrefix(dest, "/topic/") }

func cutPrefix(dest, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(dest, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
