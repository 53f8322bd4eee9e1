package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	v1 "handoff/contracts/support/v1"
)

// lpLink speaks the broker's long-poll fallback: a POST opens the session,
// GETs deliver frame batches, POSTs submit frames, DELETE disconnects.
type lpLink struct {
	base   string // http(s) base URL
	sid    string
	bearer string
	hc     *http.Client

	mu    sync.Mutex
	queue []v1.Frame
}

// dialLongPoll opens a long-poll session. The connected frame is the open
// response body.
func dialLongPoll(ctx context.Context, cfg Config) (link, v1.Frame, error) {
	l := &lpLink{
		base:   toHTTPBase(cfg.URL),
		bearer: bearerHeader(cfg.BearerToken),
		hc:     &http.Client{},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+"/lp", nil)
	if err != nil {
		return nil, v1.Frame{}, err
	}
	if l.bearer != "" {
		req.Header.Set("Authorization", l.bearer)
	}

	resp, err := l.hc.Do(req)
	if err != nil {
		return nil, v1.Frame{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, v1.Frame{}, fmt.Errorf("long-poll open: status %d", resp.StatusCode)
	}

	var connected v1.Frame
	if err := json.NewDecoder(resp.Body).Decode(&connected); err != nil {
		return nil, v1.Frame{}, err
	}
	if connected.Type != v1.TypeConnected {
		return nil, v1.Frame{}, errors.New("transport: expected connected frame")
	}

	var body v1.ConnectedBody
	if err := decodeBody(connected.Body, &body); err != nil || body.SessionID == "" {
		return nil, v1.Frame{}, errors.New("transport: malformed connected frame")
	}
	l.sid = body.SessionID

	return l, connected, nil
}

// readFrame pops a buffered frame or issues the next poll. Empty batches (the
// server's wait window elapsing) loop transparently.
func (l *lpLink) readFrame(ctx context.Context) (v1.Frame, error) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			f := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return f, nil
		}
		l.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/lp/"+l.sid, nil)
		if err != nil {
			return v1.Frame{}, err
		}

		resp, err := l.hc.Do(req)
		if err != nil {
			return v1.Frame{}, err
		}

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
				return v1.Frame{}, io.EOF
			}
			return v1.Frame{}, fmt.Errorf("long-poll: status %d", resp.StatusCode)
		}

		var batch []v1.Frame
		err = json.NewDecoder(resp.Body).Decode(&batch)
		_ = resp.Body.Close()
		if err != nil {
			return v1.Frame{}, err
		}

		l.mu.Lock()
		l.queue = append(l.queue, batch...)
		l.mu.Unlock()
	}
}

func (l *lpLink) writeFrame(ctx context.Context, f v1.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+"/lp/"+l.sid, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.hc.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("long-poll submit: status %d", resp.StatusCode)
	}
	return nil
}

func (l *lpLink) close() error {
	req, err := http.NewRequest(http.MethodDelete, l.base+"/lp/"+l.sid, nil)
	if err != nil {
		return err
	}
	resp, err := l.hc.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
