package nwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nostrpay-server/internal/nips"
	"nostrpay-server/internal/nostr"
	"nostrpay-server/internal/relay"
	"nostrpay-server/internal/types"
)

// EncryptionScheme selects the payload envelope. It is pinned per deployment
// by configuration; mismatched peers get decrypt failures, never silent
// renegotiation.
type EncryptionScheme string

const (
	EncryptionNip44 EncryptionScheme = "nip44"
	EncryptionNip04 EncryptionScheme = "nip04"
)

// DefaultTimeout bounds one request/response round-trip. Some wallets never
// respond, so every call has to have a deadline.
const DefaultTimeout = 15 * time.Second

// Request is the JSON-RPC request sent to the wallet.
type Request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// Response is the JSON-RPC response from the wallet.
type Response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *WalletError    `json:"error,omitempty"`
}

// Client performs NWC round-trips over a shared relay pool. Concurrent calls
// on one client are independent: each gets its own request event id and its
// own response subscription.
type Client struct {
	pool    *relay.Pool
	scheme  EncryptionScheme
	timeout time.Duration
}

// NewClient creates an NWC client on top of the given relay pool.
func NewClient(pool *relay.Pool, scheme EncryptionScheme, timeout time.Duration) *Client {
	if scheme == "" {
		scheme = EncryptionNip44
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{pool: pool, scheme: scheme, timeout: timeout}
}

func (c *Client) encrypt(conn *Connection, plaintext string) (string, error) {
	switch c.scheme {
	case EncryptionNip04:
		return nips.Nip04Encrypt(plaintext, conn.nip04Key)
	default:
		return nips.Nip44Encrypt(plaintext, conn.conversationKey)
	}
}

func (c *Client) decrypt(conn *Connection, payload string) (string, error) {
	switch c.scheme {
	case EncryptionNip04:
		return nips.Nip04Decrypt(payload, conn.nip04Key)
	default:
		return nips.Nip44Decrypt(payload, conn.conversationKey)
	}
}

// buildRequestEvent creates a signed kind 23194 event carrying the encrypted
// payload, p-tagged to the wallet.
func (c *Client) buildRequestEvent(conn *Connection, encrypted string) (*types.Event, error) {
	evt := &types.Event{
		PubKey:    conn.ClientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindNwcRequest,
		Tags:      [][]string{{"p", conn.WalletPubKeyHex()}},
		Content:   encrypted,
	}
	if err := nostr.Sign(evt, conn.Secret); err != nil {
		return nil, err
	}
	return evt, nil
}

// Call performs one request/response round-trip against the wallet: encode,
// encrypt, publish to every relay in the connection (first acceptance is
// enough), then wait for the matching kind 23195 response within the client
// timeout. Wallet-level errors come back as *WalletError and are terminal.
func (c *Client) Call(ctx context.Context, conn *Connection, method string, params interface{}) (*Response, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	reqJSON, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("nwc: marshal request: %w", err)
	}

	encrypted, err := c.encrypt(conn, string(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("nwc: encrypt request: %w", err)
	}

	evt, err := c.buildRequestEvent(conn, encrypted)
	if err != nil {
		return nil, fmt.Errorf("nwc: build request event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Subscribe for the response before publishing; some relays only
	// deliver responses to subscriptions that name the request id in #e.
	filter := types.Filter{
		Kinds:   []int{nostr.KindNwcResponse},
		Authors: []string{conn.WalletPubKeyHex()},
		ETags:   []string{evt.ID},
	}

	var subs []*relay.Subscription
	subRelay := make(map[*relay.Subscription]string)
	for _, relayURL := range conn.Relays {
		sub, err := c.pool.Subscribe(ctx, relayURL, filter)
		if err != nil {
			slog.Debug("nwc: subscribe failed", "relay", relayURL, "error", err)
			continue
		}
		subs = append(subs, sub)
		subRelay[sub] = relayURL
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("nwc: no relay reachable for response subscription: %w", relay.ErrRelayUnreachable)
	}
	defer func() {
		for _, sub := range subs {
			c.pool.Unsubscribe(subRelay[sub], sub)
		}
	}()

	// Publish to every relay; collect failures, one acceptance suffices
	published := false
	var publishErrs []error
	for _, relayURL := range conn.Relays {
		if err := c.pool.Publish(ctx, relayURL, evt); err != nil {
			publishErrs = append(publishErrs, err)
			continue
		}
		published = true
	}
	if !published {
		return nil, fmt.Errorf("nwc: publish failed on all relays: %w", errors.Join(publishErrs...))
	}

	slog.Debug("nwc: request published",
		"method", method,
		"event_id", evt.ID[:16],
		"relays", len(conn.Relays))

	// Merge the per-relay subscriptions into one response stream
	merged := make(chan types.Event, len(subs))
	for _, sub := range subs {
		go func(s *relay.Subscription) {
			for {
				select {
				case e, ok := <-s.Events:
					if !ok {
						return
					}
					select {
					case merged <- e:
					case <-ctx.Done():
						return
					}
				case <-s.Done:
					return
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()

		case respEvt := <-merged:
			resp, ok := c.parseResponseEvent(conn, &respEvt, evt.ID)
			if !ok {
				continue // not ours or malformed, keep waiting
			}
			if resp.Error != nil {
				return nil, resp.Error
			}
			if resp.ResultType != method {
				return nil, fmt.Errorf("nwc: unexpected result type %q for method %q", resp.ResultType, method)
			}
			return resp, nil
		}
	}
}

// parseResponseEvent verifies and decrypts one candidate response event.
// Anything that fails a check is dropped rather than failing the call; the
// real response may still arrive from another relay.
func (c *Client) parseResponseEvent(conn *Connection, evt *types.Event, requestID string) (*Response, bool) {
	if evt.Kind != nostr.KindNwcResponse {
		return nil, false
	}
	if evt.PubKey != conn.WalletPubKeyHex() {
		slog.Debug("nwc: response not from wallet", "from", evt.PubKey)
		return nil, false
	}
	if evt.TagValue("e") != requestID {
		return nil, false
	}
	if !nostr.Verify(evt) {
		slog.Warn("nwc: response event failed signature verification", "event_id", evt.ID)
		return nil, false
	}

	decrypted, err := c.decrypt(conn, evt.Content)
	if err != nil {
		slog.Warn("nwc: failed to decrypt response", "error", err)
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
		slog.Warn("nwc: failed to parse response JSON", "error", err)
		return nil, false
	}
	return &resp, true
}
