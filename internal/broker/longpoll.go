package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "handoff/contracts/support/v1"
)

const (
	lpDefaultWait        = 25 * time.Second
	lpDefaultIdleExpiry  = 2 * time.Minute
	lpDefaultMaxBatch    = 64
	lpJanitorInterval    = 30 * time.Second
	lpMaxRequestBodySize = maxFrameBytes
)

// LongPollGateway is the HTTP fallback transport for clients that cannot hold
// a full-duplex socket. It speaks the same frame protocol as the websocket
// gateway through Gateway.dispatchFrame.
//
// Endpoints (relative to the mount point, e.g. /lp):
//
//	POST   /lp            open a session; responds with the connected frame
//	GET    /lp/{sid}      block up to the wait window; responds with a frame batch
//	POST   /lp/{sid}      submit one client frame
//	DELETE /lp/{sid}      disconnect
type LongPollGateway struct {
	log *slog.Logger
	gw  *Gateway

	wait       time.Duration
	idleExpiry time.Duration

	mu       sync.Mutex
	sessions map[string]*lpSession

	stopOnce sync.Once
	stopCh   chan struct{}
}

type lpSession struct {
	cs       *connSession
	lastSeen time.Time
}

// NewLongPollGateway constructs the fallback transport on top of a Gateway.
func NewLongPollGateway(log *slog.Logger, gw *Gateway) *LongPollGateway {
	lp := &LongPollGateway{
		log:        log,
		gw:         gw,
		wait:       envDurationBroker("HANDOFF_LP_WAIT", lpDefaultWait),
		idleExpiry: envDurationBroker("HANDOFF_LP_IDLE_EXPIRY", lpDefaultIdleExpiry),
		sessions:   make(map[string]*lpSession),
		stopCh:     make(chan struct{}),
	}
	go lp.janitor()
	return lp
}

// Stop shuts the expiry janitor down and tears down all sessions.
func (lp *LongPollGateway) Stop() {
	lp.stopOnce.Do(func() { close(lp.stopCh) })

	lp.mu.Lock()
	sessions := lp.sessions
	lp.sessions = make(map[string]*lpSession)
	lp.mu.Unlock()

	for _, s := range sessions {
		s.cs.teardown(lp.gw.coord)
		connectionsOpen.WithLabelValues("longpoll").Dec()
	}
}

// ServeHTTP routes the /lp endpoints.
func (lp *LongPollGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/lp"), "/")

	switch {
	case sid == "" && r.Method == http.MethodPost:
		lp.handleOpen(w, r)
	case sid != "" && r.Method == http.MethodGet:
		lp.handlePoll(w, r, sid)
	case sid != "" && r.Method == http.MethodPost:
		lp.handleSubmit(w, r, sid)
	case sid != "" && r.Method == http.MethodDelete:
		lp.handleClose(w, sid)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (lp *LongPollGateway) handleOpen(w http.ResponseWriter, r *http.Request) {
	if err := lp.gw.enforceOrigin(r); err != nil {
		lp.log.Info("lp.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	agentName, isAgent := lp.gw.identify(r.Header.Get("Authorization"))

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		lp.log.Error("lp.session_id.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	client := NewClient(sessionID, lp.gw.sendQueueSize)
	client.Agent = isAgent
	client.AgentName = agentName
	cs := newConnSession(client, NewRateLimiter(lp.gw.rateEvents, lp.gw.rateWindow))

	lp.mu.Lock()
	lp.sessions[sessionID] = &lpSession{cs: cs, lastSeen: time.Now().UTC()}
	lp.mu.Unlock()

	connectionsOpen.WithLabelValues("longpoll").Inc()
	lp.log.Info("lp.open", "session_id", sessionID, "agent", isAgent)

	writeJSON(w, http.StatusOK, lp.gw.connectedFrame(client))
}

func (lp *LongPollGateway) handlePoll(w http.ResponseWriter, r *http.Request, sid string) {
	s := lp.touch(sid)
	if s == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	batch := make([]v1.Frame, 0, 8)

	ctx, cancel := context.WithTimeout(r.Context(), lp.wait)
	defer cancel()

	// Block for the first frame, then drain whatever else is queued.
	select {
	case <-ctx.Done():
	case <-s.cs.client.Done():
		http.Error(w, "session closed", http.StatusGone)
		return
	case f := <-s.cs.client.Send:
		batch = append(batch, f)
	drain:
		for len(batch) < lpDefaultMaxBatch {
			select {
			case f := <-s.cs.client.Send:
				batch = append(batch, f)
			default:
				break drain
			}
		}
	}

	writeJSON(w, http.StatusOK, batch)
}

func (lp *LongPollGateway) handleSubmit(w http.ResponseWriter, r *http.Request, sid string) {
	s := lp.touch(sid)
	if s == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var f v1.Frame
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, lpMaxRequestBodySize))
	if err := dec.Decode(&f); err != nil {
		http.Error(w, "invalid frame", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	if !s.cs.rl.Allow(now) {
		rateLimited.Inc()
		lp.closeSession(sid)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	if err := f.Validate(); err != nil {
		lp.gw.trySendError(s.cs, "bad_frame", err.Error())
		w.WriteHeader(http.StatusAccepted)
		return
	}

	lp.gw.dispatchFrame(r.Context(), s.cs, f)
	w.WriteHeader(http.StatusAccepted)
}

func (lp *LongPollGateway) handleClose(w http.ResponseWriter, sid string) {
	if !lp.closeSession(sid) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// touch returns the session and refreshes its idle deadline.
func (lp *LongPollGateway) touch(sid string) *lpSession {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	s := lp.sessions[sid]
	if s != nil {
		s.lastSeen = time.Now().UTC()
	}
	return s
}

func (lp *LongPollGateway) closeSession(sid string) bool {
	lp.mu.Lock()
	s := lp.sessions[sid]
	delete(lp.sessions, sid)
	lp.mu.Unlock()

	if s == nil {
		return false
	}
	s.cs.teardown(lp.gw.coord)
	connectionsOpen.WithLabelValues("longpoll").Dec()
	lp.log.Info("lp.close", "session_id", sid)
	return true
}

// janitor expires sessions whose client went away without a DELETE.
func (lp *LongPollGateway) janitor() {
	t := time.NewTicker(lpJanitorInterval)
	defer t.Stop()

	for {
		select {
		case <-lp.stopCh:
			return
		case now := <-t.C:
			lp.mu.Lock()
			var expired []string
			for sid, s := range lp.sessions {
				if now.Sub(s.lastSeen) > lp.idleExpiry {
					expired = append(expired, sid)
				}
			}
			lp.mu.Unlock()

			for _, sid := range expired {
				lp.log.Info("lp.expire", "session_id", sid)
				lp.closeSession(sid)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
