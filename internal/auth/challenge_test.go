package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nostrpay-server/internal/cache"
)

func newTestChallengeStore(t *testing.T, ttl time.Duration) *ChallengeStore {
	t.Helper()
	backend := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { backend.Close() })
	return NewChallengeStore(backend, ttl)
}

func TestChallengeIssueAndRedeem(t *testing.T) {
	cs := newTestChallengeStore(t, time.Minute)
	ctx := context.Background()

	ch, err := cs.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(ch.Nonce) != 64 {
		t.Errorf("nonce is %d chars, want 64", len(ch.Nonce))
	}

	ok, err := cs.Redeem(ctx, ch.Nonce)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if !ok {
		t.Error("fresh nonce did not redeem")
	}
}

func TestChallengeRedeemOnlyOnce(t *testing.T) {
	cs := newTestChallengeStore(t, time.Minute)
	ctx := context.Background()

	ch, err := cs.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if ok, _ := cs.Redeem(ctx, ch.Nonce); !ok {
		t.Fatal("first redemption failed")
	}
	if ok, _ := cs.Redeem(ctx, ch.Nonce); ok {
		t.Error("nonce redeemed twice")
	}
}

func TestChallengeRedeemUnknown(t *testing.T) {
	cs := newTestChallengeStore(t, time.Minute)
	ctx := context.Background()

	if ok, _ := cs.Redeem(ctx, "never-issued"); ok {
		t.Error("unknown nonce redeemed")
	}
	if ok, _ := cs.Redeem(ctx, ""); ok {
		t.Error("empty nonce redeemed")
	}
}

func TestChallengeExpiry(t *testing.T) {
	cs := newTestChallengeStore(t, 10*time.Millisecond)
	ctx := context.Background()

	ch, err := cs.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if ok, _ := cs.Redeem(ctx, ch.Nonce); ok {
		t.Error("expired nonce redeemed")
	}
}

func TestChallengeConcurrentRedeemExactlyOnce(t *testing.T) {
	cs := newTestChallengeStore(t, time.Minute)
	ctx := context.Background()

	ch, err := cs.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cs.Redeem(ctx, ch.Nonce)
			if err != nil {
				t.Errorf("Redeem failed: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("%d concurrent redeemers won, want exactly 1", got)
	}
}

func TestChallengeNoncesUnique(t *testing.T) {
	cs := newTestChallengeStore(t, time.Minute)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ch, err := cs.Issue(ctx)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if seen[ch.Nonce] {
			t.Fatal("duplicate nonce issued")
		}
		seen[ch.Nonce] = true
	}
}
