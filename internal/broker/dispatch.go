package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	v1 "handoff/contracts/support/v1"
)

// dispatchFrame routes one validated inbound frame. Transport loops (websocket
// and long-poll) both land here, so the protocol behaves identically on either.
//
// Errors surface as error frames to the offending connection only; nothing here
// tears the connection down.
func (g *Gateway) dispatchFrame(ctx context.Context, cs *connSession, f v1.Frame) {
	framesTotal.WithLabelValues(f.Type, "in").Inc()

	switch f.Type {
	case v1.TypeSubscribe:
		g.onSubscribe(ctx, cs, f)
	case v1.TypeUnsubscribe:
		g.onUnsubscribe(cs, f)
	case v1.TypeSend:
		g.onSend(ctx, cs, f)
	default:
		g.trySendError(cs, "unsupported", fmt.Sprintf("unsupported type: %s", f.Type))
	}
}

func (g *Gateway) onSubscribe(_ context.Context, cs *connSession, f v1.Frame) {
	dest := strings.TrimSpace(f.Destination)

	if !v1.IsTopic(dest) {
		g.trySendError(cs, "bad_destination", "subscribe requires a /topic/ destination")
		return
	}
	if dest == v1.QueueTopic && !cs.client.Agent {
		g.trySendError(cs, "forbidden", "queue topic is agent-only")
		return
	}

	t := g.hub.GetOrCreate(dest)
	t.Join(cs.client)
	cs.addSub(dest, t)
}

// onUnsubscribe is idempotent: dropping an unknown destination is not an error.
func (g *Gateway) onUnsubscribe(cs *connSession, f v1.Frame) {
	dest := strings.TrimSpace(f.Destination)
	if t, ok := cs.dropSub(dest); ok {
		t.Leave(cs.client.SessionID)
	}
}

func (g *Gateway) onSend(ctx context.Context, cs *connSession, f v1.Frame) {
	dest := strings.TrimSpace(f.Destination)

	if roomID, ok := v1.RoomFromSendDest(dest); ok {
		g.onRoomSend(ctx, cs, roomID, f.Body)
		return
	}
	if roomID, ok := v1.RoomFromHandoffDest(dest); ok {
		g.onHandoffRequest(ctx, cs, roomID, f.Body)
		return
	}
	if dest == v1.HandoffAcceptDest {
		g.onHandoffAccept(ctx, cs, f.Body)
		return
	}

	g.trySendError(cs, "bad_destination", fmt.Sprintf("no handler for destination: %s", dest))
}

func (g *Gateway) onRoomSend(ctx context.Context, cs *connSession, roomID string, body json.RawMessage) {
	var chat v1.ChatBody
	if err := json.Unmarshal(body, &chat); err != nil {
		g.trySendError(cs, "bad_payload", "invalid chat body")
		return
	}

	text := strings.TrimSpace(chat.Text)
	if chat.Type != v1.MessageText || text == "" {
		g.trySendError(cs, "bad_payload", "chat body requires type TEXT and non-empty text")
		return
	}
	if len([]rune(text)) > maxMessageChars {
		g.trySendError(cs, "bad_payload", fmt.Sprintf("message too long: max=%d chars", maxMessageChars))
		return
	}
	if chat.Role == "" {
		chat.Role = v1.RoleUser
	}
	chat.Text = text

	now := time.Now().UTC()
	g.persist(ctx, roomID, chat, now)

	// The publisher already appended its own optimistic echo;
	// fan out to everyone else on the room topic.
	g.broadcastRoom(roomID, chat, cs.client.SessionID, now)

	if chat.Role == v1.RoleUser && !g.coord.Claimed(roomID) && g.bot != nil {
		if reply, ok := g.bot.Reply(roomID, text); ok {
			botChat := v1.ChatBody{Type: v1.MessageText, Role: v1.RoleBot, Text: reply}
			g.persist(ctx, roomID, botChat, now)
			g.broadcastRoom(roomID, botChat, "", now)
			botReplies.Inc()
		}
	}
}

func (g *Gateway) onHandoffRequest(ctx context.Context, cs *connSession, roomID string, body json.RawMessage) {
	var req v1.HandoffRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		g.trySendError(cs, "bad_payload", "invalid handoff body")
		return
	}

	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		userName = "anonymous"
	}

	g.coord.Request(roomID, userName)
	handoffsRequested.Inc()

	event := v1.QueueEvent{
		Event:    v1.QueueEventHandoffRequested,
		RoomID:   roomID,
		UserName: userName,
	}
	eventBody, _ := json.Marshal(event)
	g.broadcast(v1.QueueTopic, eventBody, "", time.Now().UTC())

	// Echo a system marker on the room topic so the visitor sees the wait state.
	sys := v1.ChatBody{Type: v1.MessageHandoffRequest, Role: v1.RoleSys}
	g.persist(ctx, roomID, sys, time.Now().UTC())
	g.broadcastRoom(roomID, sys, "", time.Now().UTC())
}

func (g *Gateway) onHandoffAccept(ctx context.Context, cs *connSession, body json.RawMessage) {
	if !cs.client.Agent {
		g.trySendError(cs, "forbidden", "accept is agent-only")
		return
	}

	var acc v1.AcceptBody
	if err := json.Unmarshal(body, &acc); err != nil {
		g.trySendError(cs, "bad_payload", "invalid accept body")
		return
	}
	roomID := strings.TrimSpace(acc.RoomID)
	if roomID == "" {
		g.trySendError(cs, "bad_payload", "missing roomId")
		return
	}

	// Last accept wins. A prior claim is replaced, not rejected: the broker
	// performs no exclusivity arbitration for concurrent accepts.
	prev := g.coord.Accept(roomID, cs.client.SessionID)
	if prev != "" && prev != cs.client.SessionID {
		g.log.Warn("handoff.accept.replaced", "room_id", roomID, "prev_session", prev, "session_id", cs.client.SessionID)
	}
	cs.addClaim(roomID)
	handoffsAccepted.Inc()

	// The accepting agent gets the room transcript so far, then the accepted
	// marker lands on the topic for everyone.
	g.replayTranscript(ctx, cs, roomID)

	sys := v1.ChatBody{Type: v1.MessageHandoffAccepted, Role: v1.RoleSys}
	g.persist(ctx, roomID, sys, time.Now().UTC())
	g.broadcastRoom(roomID, sys, "", time.Now().UTC())
}

// replayTranscript sends the persisted room history to one session, so an
// agent taking a room over sees what the visitor and the bot already said.
// Frames go straight to the session's queue, not through the topic.
func (g *Gateway) replayTranscript(ctx context.Context, cs *connSession, roomID string) {
	if g.store == nil {
		return
	}

	res, err := g.store.History(ctx, HistoryInput{RoomID: roomID, Limit: handoffReplayLimit})
	if err != nil {
		g.log.Error("store.history.fail", "room_id", roomID, "err", err)
		return
	}
	if res.HasMore {
		g.log.Warn("handoff.replay.truncated", "room_id", roomID, "limit", handoffReplayLimit)
	}

	for _, m := range res.Messages {
		body, _ := json.Marshal(v1.ChatBody{Type: m.Type, Role: m.Role, Text: m.Text})
		g.enqueue(cs, v1.Frame{
			V:           v1.Version,
			Type:        v1.TypeMessage,
			ID:          m.ServerID,
			Destination: v1.RoomTopic(roomID),
			TS:          m.ServerTS,
			Body:        body,
		})
	}
}

// ---- fanout helpers ----

func (g *Gateway) broadcastRoom(roomID string, chat v1.ChatBody, skipSessionID string, now time.Time) {
	body, _ := json.Marshal(chat)
	g.broadcast(v1.RoomTopic(roomID), body, skipSessionID, now)
}

func (g *Gateway) broadcast(topic string, body json.RawMessage, skipSessionID string, now time.Time) {
	t := g.hub.Get(topic)
	if t == nil || t.Size() == 0 {
		return
	}

	id, err := NewFrameID(now)
	if err != nil {
		g.log.Error("frame.id.fail", "err", err)
		return
	}

	frame := v1.Frame{
		V:           v1.Version,
		Type:        v1.TypeMessage,
		ID:          id,
		Destination: topic,
		TS:          now,
		Body:        body,
	}
	t.BroadcastExcept(frame, skipSessionID)
	framesTotal.WithLabelValues(v1.TypeMessage, "out").Inc()
}

// persist appends to the transcript store. Store failures are logged, never
// surfaced: delivery availability wins over persistence here.
func (g *Gateway) persist(ctx context.Context, roomID string, chat v1.ChatBody, now time.Time) {
	if g.store == nil {
		return
	}
	_, err := g.store.Append(ctx, AppendInput{
		RoomID: roomID,
		Type:   chat.Type,
		Role:   chat.Role,
		Text:   chat.Text,
		Now:    now,
	})
	if err != nil {
		g.log.Error("store.append.fail", "room_id", roomID, "err", err)
	}
}

// trySendError enqueues an error frame; dropped silently under backpressure.
func (g *Gateway) trySendError(cs *connSession, code, msg string) {
	body, _ := json.Marshal(v1.ErrorBody{Code: code, Message: msg})
	id, _ := NewFrameID(time.Now().UTC())
	g.enqueue(cs, v1.Frame{
		V:    v1.Version,
		Type: v1.TypeError,
		ID:   id,
		TS:   time.Now().UTC(),
		Body: body,
	})
}

// enqueue offers a frame to the connection's send queue without blocking.
func (g *Gateway) enqueue(cs *connSession, f v1.Frame) bool {
	select {
	case <-cs.client.Done():
		return false
	case cs.client.Send <- f:
		framesTotal.WithLabelValues(f.Type, "out").Inc()
		return true
	default:
		return false
	}
}
