package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/monitor"
)

type fakeSessions struct {
	mu       sync.Mutex
	acquired []string
	released []string
}

func (f *fakeSessions) Acquire(_ context.Context, sessionKey string, _ models.MonitorParams) (monitor.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, sessionKey)
	return nil, nil
}

func (f *fakeSessions) Release(sessionKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionKey)
}

func (f *fakeSessions) releasedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func newTestClient(h *Hub, sessionKey string, buffer int) *Client {
	c := &Client{
		hub:        h,
		sessionKey: sessionKey,
		send:       make(chan []byte, buffer),
	}
	h.register(c)
	return c
}

func TestBroadcastFiltersByUser(t *testing.T) {
	hub := NewHub(&fakeSessions{})
	alice := newTestClient(hub, "alice", 4)
	bob := newTestClient(hub, "bob", 4)

	hub.Broadcast(monitor.DepositTopic, "alice", models.DepositEvent{Type: "deposit_pending", TxHash: "tx-1"})

	select {
	case frame := <-alice.send:
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if env.Topic != monitor.DepositTopic {
			t.Errorf("topic = %q, want %q", env.Topic, monitor.DepositTopic)
		}
	default:
		t.Fatal("targeted client received no frame")
	}

	select {
	case <-bob.send:
		t.Error("frame delivered to a different user")
	default:
	}
}

func TestBroadcastEmptyUserReachesEveryone(t *testing.T) {
	hub := NewHub(&fakeSessions{})
	alice := newTestClient(hub, "alice", 4)
	bob := newTestClient(hub, "bob", 4)

	hub.Broadcast(monitor.DepositTopic, "", models.DepositEvent{Type: "deposit_completed"})

	for _, c := range []*Client{alice, bob} {
		select {
		case <-c.send:
		default:
			t.Errorf("client %s received no frame", c.sessionKey)
		}
	}
}

func TestBroadcastDropsFramesForSlowClient(t *testing.T) {
	hub := NewHub(&fakeSessions{})
	slow := newTestClient(hub, "slow", 1)

	// Fill the buffer, then broadcast twice more: the extra frames are dropped
	// without blocking.
	for i := 0; i < 3; i++ {
		hub.Broadcast(monitor.DepositTopic, "slow", models.DepositEvent{Type: fmt.Sprintf("event-%d", i)})
	}

	if got := len(slow.send); got != 1 {
		t.Errorf("buffered frames = %d, want 1", got)
	}
}

func TestUnregisterReleasesSession(t *testing.T) {
	sessions := &fakeSessions{}
	hub := NewHub(sessions)
	c := newTestClient(hub, "alice", 4)

	if hub.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", hub.SubscriberCount())
	}

	hub.unregister(c)

	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", hub.SubscriberCount())
	}
	if got := sessions.releasedKeys(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("released sessions = %v, want [alice]", got)
	}

	// A second unregister for the same client is a no-op.
	hub.unregister(c)
	if got := sessions.releasedKeys(); len(got) != 1 {
		t.Errorf("released sessions after repeat = %v, want a single entry", got)
	}
}

func TestBroadcastSkipsDepartedClient(t *testing.T) {
	hub := NewHub(&fakeSessions{})
	c := newTestClient(hub, "alice", 4)
	hub.unregister(c)

	// Must not panic sending on the closed channel.
	hub.Broadcast(monitor.DepositTopic, "alice", models.DepositEvent{Type: "deposit_pending"})
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid chain", config.ErrInvalidChain, config.ErrorInvalidChain},
		{"invalid address wrapped", fmt.Errorf("%w: bad checksum", config.ErrInvalidAddress), config.ErrorInvalidAddress},
		{"missing currency", config.ErrMissingCurrency, config.ErrorMissingCurrency},
		{"wallet not found", config.ErrWalletNotFound, config.ErrorWalletNotFound},
		{"provider unavailable", config.ErrProviderUnavailable, config.ErrorProviderUnavailable},
		{"all providers failed", config.ErrAllProvidersFailed, config.ErrorProviderUnavailable},
		{"rate limit", config.ErrProviderRateLimit, config.ErrorProviderRateLimit},
		{"anything else", errors.New("boom"), config.ErrorMonitorFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
