package broker

import "sync"

// connSession is the per-connection routing state shared by the websocket and
// long-poll transports: the outbound client, the destinations this connection
// subscribed to, and the rooms it claimed.
type connSession struct {
	client *Client
	rl     *RateLimiter

	mu     sync.Mutex
	subs   map[string]*Topic
	claims map[string]struct{}
}

func newConnSession(client *Client, rl *RateLimiter) *connSession {
	return &connSession{
		client: client,
		rl:     rl,
		subs:   make(map[string]*Topic),
		claims: make(map[string]struct{}),
	}
}

func (cs *connSession) addSub(dest string, t *Topic) {
	cs.mu.Lock()
	cs.subs[dest] = t
	cs.mu.Unlock()
}

// dropSub removes a subscription and reports whether it existed.
func (cs *connSession) dropSub(dest string) (*Topic, bool) {
	cs.mu.Lock()
	t, ok := cs.subs[dest]
	delete(cs.subs, dest)
	cs.mu.Unlock()
	return t, ok
}

func (cs *connSession) addClaim(roomID string) {
	cs.mu.Lock()
	cs.claims[roomID] = struct{}{}
	cs.mu.Unlock()
}

// teardown leaves every topic, releases claims, and closes the client.
// Safe to call more than once.
func (cs *connSession) teardown(coord *Coordinator) {
	cs.mu.Lock()
	subs := cs.subs
	claims := cs.claims
	cs.subs = make(map[string]*Topic)
	cs.claims = make(map[string]struct{})
	cs.mu.Unlock()

	for _, t := range subs {
		t.Leave(cs.client.SessionID)
	}
	for roomID := range claims {
		coord.Release(roomID, cs.client.SessionID)
	}
	cs.client.Close()
}
