// Package relay maintains outbound websocket sessions to Nostr relays. One
// logical connection per relay URL carries any number of multiplexed
// subscriptions; a single read loop per connection routes EVENT/EOSE/CLOSED
// frames to their subscriptions by subscription id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nostrpay-server/internal/nostr"
	"nostrpay-server/internal/types"
)

// ErrRelayUnreachable is returned once reconnect attempts are exhausted.
var ErrRelayUnreachable = errors.New("relay: unreachable after retries")

const (
	defaultDialTimeout   = 10 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	maxReconnectAttempts = 4
	reconnectBaseDelay   = 250 * time.Millisecond
	idleTimeout          = 2 * time.Minute
	cleanupInterval      = 60 * time.Second
	okWaitTimeout        = 5 * time.Second
)

// Subscription represents an active subscription on a relay connection.
// Events arrives until the subscription is closed; EOSE fires once the relay
// has sent its stored events.
type Subscription struct {
	ID        string
	Events    chan types.Event
	EOSE      chan bool
	Done      chan struct{}
	filter    types.Filter
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

type okResult struct {
	accepted bool
	reason   string
}

// Conn manages a single websocket connection with multiple subscriptions.
// The ws pointer is replaced on reconnect; subscriptions survive the swap.
type Conn struct {
	relayURL string

	mu           sync.Mutex
	writeMu      sync.Mutex
	ws           *websocket.Conn
	subs         map[string]*Subscription
	okWaiters    map[string]chan okResult
	closed       bool
	generation   int
	lastActivity time.Time
}

// Pool manages connections to multiple relays
type Pool struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	stopCh chan struct{}
	once   sync.Once
}

// NewPool creates a new connection pool and starts its idle-cleanup loop.
func NewPool() *Pool {
	p := &Pool{
		conns:  make(map[string]*Conn),
		stopCh: make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// getOrCreateConn gets an existing connection or dials a new one
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*Conn, error) {
	if !isRelayURLSafe(relayURL) {
		return nil, fmt.Errorf("relay URL blocked: unsafe destination %q", relayURL)
	}

	p.mu.RLock()
	rc := p.conns[relayURL]
	p.mu.RUnlock()

	if rc != nil && rc.alive() {
		return rc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	rc = p.conns[relayURL]
	if rc != nil && rc.alive() {
		return rc, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	slog.Debug("relay pool: dialing", "relay", relayURL)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", relayURL, err)
	}

	rc = &Conn{
		relayURL:     relayURL,
		ws:           ws,
		subs:         make(map[string]*Subscription),
		okWaiters:    make(map[string]chan okResult),
		lastActivity: time.Now(),
	}
	p.conns[relayURL] = rc

	go p.readLoop(rc, ws, rc.generation)

	return rc, nil
}

func (rc *Conn) alive() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return !rc.closed
}

// Subscribe opens a subscription matching the filter on the given relay.
// Dial failures are retried with exponential backoff before surfacing
// ErrRelayUnreachable.
func (p *Pool) Subscribe(ctx context.Context, relayURL string, filter types.Filter) (*Subscription, error) {
	sub := &Subscription{
		ID:     "sub-" + uuid.NewString()[:13],
		Events: make(chan types.Event, 100),
		EOSE:   make(chan bool, 1),
		Done:   make(chan struct{}),
		filter: filter,
	}

	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			delay := reconnectBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		rc, err := p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			lastErr = err
			continue
		}

		rc.mu.Lock()
		if rc.closed {
			rc.mu.Unlock()
			p.dropConn(relayURL, rc)
			lastErr = fmt.Errorf("connection to %s closed", relayURL)
			continue
		}
		rc.subs[sub.ID] = sub
		rc.mu.Unlock()

		if err := rc.writeJSON([]interface{}{"REQ", sub.ID, filter.ToWire()}); err != nil {
			rc.mu.Lock()
			delete(rc.subs, sub.ID)
			rc.mu.Unlock()
			rc.markClosed()
			lastErr = err
			continue
		}

		rc.touch()
		return sub, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrRelayUnreachable, relayURL, lastErr)
}

// Unsubscribe closes a subscription and releases the relay-side state with a
// CLOSE frame.
func (p *Pool) Unsubscribe(relayURL string, sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	rc := p.conns[relayURL]
	p.mu.RUnlock()

	if rc != nil {
		rc.mu.Lock()
		_, exists := rc.subs[sub.ID]
		shouldSendClose := !rc.closed && exists
		delete(rc.subs, sub.ID)
		rc.mu.Unlock()

		if shouldSendClose {
			// Best effort, the connection may be gone
			rc.writeJSON([]interface{}{"CLOSE", sub.ID})
		}
	}

	sub.Close()
}

// Publish sends a signed event to the relay and waits for the relay's OK
// frame. A rejected event (OK false) returns an error with the relay's
// reason; transport failures are retried with backoff first.
func (p *Pool) Publish(ctx context.Context, relayURL string, evt *types.Event) error {
	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			delay := reconnectBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		rc, err := p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			lastErr = err
			continue
		}

		okCh := make(chan okResult, 1)
		rc.mu.Lock()
		if rc.closed {
			rc.mu.Unlock()
			p.dropConn(relayURL, rc)
			lastErr = fmt.Errorf("connection to %s closed", relayURL)
			continue
		}
		rc.okWaiters[evt.ID] = okCh
		rc.mu.Unlock()

		err = rc.writeJSON([]interface{}{"EVENT", evt})
		if err != nil {
			rc.mu.Lock()
			delete(rc.okWaiters, evt.ID)
			rc.mu.Unlock()
			rc.markClosed()
			lastErr = err
			continue
		}
		rc.touch()

		select {
		case res, ok := <-okCh:
			if !ok {
				// Connection died before the relay answered; retry
				lastErr = fmt.Errorf("connection to %s lost", relayURL)
				continue
			}
			if !res.accepted {
				return fmt.Errorf("relay %s rejected event: %s", relayURL, res.reason)
			}
			return nil
		case <-time.After(okWaitTimeout):
			// Some relays never send OK; the write succeeded, treat as sent
			rc.mu.Lock()
			delete(rc.okWaiters, evt.ID)
			rc.mu.Unlock()
			return nil
		case <-ctx.Done():
			rc.mu.Lock()
			delete(rc.okWaiters, evt.ID)
			rc.mu.Unlock()
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrRelayUnreachable, relayURL, lastErr)
}

func (rc *Conn) writeJSON(v interface{}) error {
	rc.mu.Lock()
	ws := rc.ws
	closed := rc.closed
	rc.mu.Unlock()
	if closed {
		return errors.New("connection closed")
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	defer ws.SetWriteDeadline(time.Time{})
	return ws.WriteJSON(v)
}

func (rc *Conn) touch() {
	rc.mu.Lock()
	rc.lastActivity = time.Now()
	rc.mu.Unlock()
}

// readLoop continuously reads from one websocket generation and routes
// messages. On read failure it hands off to the reconnect path; the
// generation counter prevents a stale loop from tearing down a fresh socket.
func (p *Pool) readLoop(rc *Conn, ws *websocket.Conn, generation int) {
	for {
		var msg []interface{}
		if err := ws.ReadJSON(&msg); err != nil {
			rc.mu.Lock()
			stale := rc.generation != generation || rc.closed
			rc.mu.Unlock()
			if stale {
				return
			}
			slog.Debug("relay pool: read error", "relay", rc.relayURL, "error", err)
			p.reconnect(rc, generation)
			return
		}

		rc.touch()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}

			rc.mu.Lock()
			sub := rc.subs[subID]
			rc.mu.Unlock()

			if sub != nil {
				select {
				case sub.Events <- evt:
				case <-sub.Done:
				default:
					// Channel full, drop event
				}
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			rc.mu.Lock()
			sub := rc.subs[subID]
			rc.mu.Unlock()
			if sub != nil {
				select {
				case sub.EOSE <- true:
				default:
				}
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}

			rc.mu.Lock()
			ch := rc.okWaiters[eventID]
			delete(rc.okWaiters, eventID)
			rc.mu.Unlock()

			if ch != nil {
				ch <- okResult{accepted: accepted, reason: reason}
			}

		case "CLOSED":
			subID, _ := msg[1].(string)
			rc.mu.Lock()
			sub := rc.subs[subID]
			delete(rc.subs, subID)
			rc.mu.Unlock()
			if sub != nil {
				sub.Close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			slog.Debug("relay pool: NOTICE", "relay", rc.relayURL, "notice", notice)
		}
	}
}

// reconnect redials the relay with bounded exponential backoff and re-issues
// the outstanding subscriptions on the fresh socket. Callers never observe
// the reconnect unless the attempts are exhausted, in which case their
// subscription channels close.
func (p *Pool) reconnect(rc *Conn, fromGeneration int) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		delay := reconnectBaseDelay << attempt
		time.Sleep(delay)

		rc.mu.Lock()
		if rc.closed || rc.generation != fromGeneration {
			rc.mu.Unlock()
			return
		}
		rc.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, rc.relayURL, nil)
		cancel()
		if err != nil {
			slog.Debug("relay pool: reconnect failed", "relay", rc.relayURL, "attempt", attempt+1, "error", err)
			continue
		}

		rc.mu.Lock()
		rc.ws = ws
		rc.generation++
		generation := rc.generation
		subs := make([]*Subscription, 0, len(rc.subs))
		for _, sub := range rc.subs {
			subs = append(subs, sub)
		}
		rc.mu.Unlock()

		go p.readLoop(rc, ws, generation)

		// Re-issue outstanding subscriptions
		for _, sub := range subs {
			if err := rc.writeJSON([]interface{}{"REQ", sub.ID, sub.filter.ToWire()}); err != nil {
				slog.Debug("relay pool: resubscribe failed", "relay", rc.relayURL, "sub", sub.ID, "error", err)
			}
		}

		slog.Debug("relay pool: reconnected", "relay", rc.relayURL, "resubscribed", len(subs))
		return
	}

	slog.Warn("relay pool: reconnect attempts exhausted", "relay", rc.relayURL)
	rc.markClosed()
	p.dropConn(rc.relayURL, rc)
}

// markClosed marks the connection as closed and cleans up
func (rc *Conn) markClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}

	rc.closed = true
	rc.ws.Close()

	for _, sub := range rc.subs {
		sub.Close()
	}
	rc.subs = make(map[string]*Subscription)

	for id, ch := range rc.okWaiters {
		close(ch)
		delete(rc.okWaiters, id)
	}
}

func (p *Pool) dropConn(relayURL string, rc *Conn) {
	p.mu.Lock()
	if p.conns[relayURL] == rc {
		delete(p.conns, relayURL)
	}
	p.mu.Unlock()
}

// cleanupLoop periodically removes stale connections
func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanup()
		}
	}
}

// cleanup removes connections that have been idle too long
func (p *Pool) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for url, rc := range p.conns {
		rc.mu.Lock()
		idle := len(rc.subs) == 0 && now.Sub(rc.lastActivity) > idleTimeout
		closed := rc.closed
		rc.mu.Unlock()

		if closed || idle {
			if !closed {
				slog.Debug("relay pool: closing idle connection", "relay", url)
				rc.markClosed()
			}
			delete(p.conns, url)
		}
	}
}

// Close shuts down every connection in the pool.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stopCh)
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	for url, rc := range p.conns {
		rc.markClosed()
		delete(p.conns, url)
	}
}
