package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nostrpay-server/internal/types"
)

// relayFrame is one decoded client frame, paired with the socket it arrived
// on so test handlers can answer.
type relayFrame struct {
	ws  *websocket.Conn
	msg []json.RawMessage
}

// newTestRelay starts a websocket server that feeds every client frame to
// handle on the reading goroutine.
func newTestRelay(t *testing.T, handle func(f relayFrame)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var msg []json.RawMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if len(msg) >= 2 {
				handle(relayFrame{ws: ws, msg: msg})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func frameType(f relayFrame) string {
	var typ string
	json.Unmarshal(f.msg[0], &typ)
	return typ
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool := NewPool()
	t.Cleanup(pool.Close)
	return pool
}

// Events and EOSE arriving for a subscription id must reach that
// subscription's channels.
func TestSubscribeRoutesEvents(t *testing.T) {
	sent := types.Event{
		ID:     "a1b2c3",
		PubKey: "d4e5f6",
		Kind:   23195,
		Tags:   [][]string{{"e", "req1"}},
	}
	relayURL := newTestRelay(t, func(f relayFrame) {
		if frameType(f) != "REQ" {
			return
		}
		var subID string
		json.Unmarshal(f.msg[1], &subID)
		f.ws.WriteJSON([]interface{}{"EVENT", subID, sent})
		f.ws.WriteJSON([]interface{}{"EOSE", subID})
	})

	pool := newTestPool(t)
	sub, err := pool.Subscribe(context.Background(), relayURL, types.Filter{Kinds: []int{23195}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer pool.Unsubscribe(relayURL, sub)

	select {
	case evt := <-sub.Events:
		if evt.ID != sent.ID || evt.PubKey != sent.PubKey {
			t.Errorf("got event %+v, want id %s", evt, sent.ID)
		}
		if evt.TagValue("e") != "req1" {
			t.Errorf("e tag = %q, want req1", evt.TagValue("e"))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case <-sub.EOSE:
	case <-time.After(5 * time.Second):
		t.Fatal("no EOSE delivered")
	}
}

func TestPublishAccepted(t *testing.T) {
	relayURL := newTestRelay(t, func(f relayFrame) {
		if frameType(f) != "EVENT" {
			return
		}
		var evt types.Event
		json.Unmarshal(f.msg[1], &evt)
		f.ws.WriteJSON([]interface{}{"OK", evt.ID, true, ""})
	})

	pool := newTestPool(t)
	evt := &types.Event{ID: "evt1", PubKey: "abc"}
	if err := pool.Publish(context.Background(), relayURL, evt); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
}

// An OK false frame is a rejection, not a transport failure: the relay's
// reason must surface and the pool must not retry.
func TestPublishRejected(t *testing.T) {
	relayURL := newTestRelay(t, func(f relayFrame) {
		if frameType(f) != "EVENT" {
			return
		}
		var evt types.Event
		json.Unmarshal(f.msg[1], &evt)
		f.ws.WriteJSON([]interface{}{"OK", evt.ID, false, "blocked: spam"})
	})

	pool := newTestPool(t)
	evt := &types.Event{ID: "evt2", PubKey: "abc"}
	err := pool.Publish(context.Background(), relayURL, evt)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "blocked: spam") {
		t.Errorf("error %q does not carry the relay's reason", err)
	}
}

// Unsubscribe must release the relay-side state with a CLOSE frame naming
// the subscription.
func TestUnsubscribeSendsClose(t *testing.T) {
	closed := make(chan string, 1)
	relayURL := newTestRelay(t, func(f relayFrame) {
		if frameType(f) != "CLOSE" {
			return
		}
		var subID string
		json.Unmarshal(f.msg[1], &subID)
		closed <- subID
	})

	pool := newTestPool(t)
	sub, err := pool.Subscribe(context.Background(), relayURL, types.Filter{Kinds: []int{1}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	pool.Unsubscribe(relayURL, sub)

	select {
	case subID := <-closed:
		if subID != sub.ID {
			t.Errorf("CLOSE named %q, want %q", subID, sub.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no CLOSE frame received")
	}

	select {
	case <-sub.Done:
	case <-time.After(time.Second):
		t.Error("subscription Done channel not closed")
	}
}
