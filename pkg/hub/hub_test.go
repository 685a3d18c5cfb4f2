package hub

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-companion/internal/log"
	"github.com/teslashibe/go-companion/pkg/protocol"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func recv(t *testing.T, c *Client) ([]byte, bool) {
	t.Helper()
	select {
	case m, ok := <-c.C():
		return m, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil, false
	}
}

func TestBroadcast(t *testing.T) {
	h, _ := startHub(t)

	a := h.Subscribe(4)
	b := h.Subscribe(4)
	if h.ClientCount() != 2 {
		t.Fatalf("ClientCount() = %d, want 2", h.ClientCount())
	}

	h.Broadcast([]byte(`{"hello":"world"}`))

	for _, c := range []*Client{a, b} {
		m, ok := recv(t, c)
		if !ok {
			t.Fatal("channel closed")
		}
		if string(m) != `{"hello":"world"}` {
			t.Errorf("message = %s", m)
		}
	}
}

func TestSubscribeRegistersBeforeReturning(t *testing.T) {
	h, _ := startHub(t)

	for i := 1; i <= 50; i++ {
		h.Subscribe(1)
		if got := h.ClientCount(); got != i {
			t.Fatalf("ClientCount() after subscribe %d = %d", i, got)
		}
	}

	t.Run("broadcast right after subscribe is delivered", func(t *testing.T) {
		sub := h.Subscribe(4)
		h.Broadcast([]byte(`"first"`))
		if m, ok := recv(t, sub); !ok || string(m) != `"first"` {
			t.Errorf("message = %s, ok = %v", m, ok)
		}
	})
}

func TestPublish(t *testing.T) {
	h, _ := startHub(t)
	sub := h.Subscribe(1)

	msg, _ := protocol.NewUserTranscriptMessage("hi there")
	h.Publish(msg)

	m, _ := recv(t, sub)
	parsed, err := protocol.ParseMessage(m)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != protocol.TypeUserTranscript {
		t.Errorf("Type = %s, want user_transcript", parsed.Type)
	}
}

func TestUnsubscribe(t *testing.T) {
	h, _ := startHub(t)
	sub := h.Subscribe(1)

	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := recv(t, sub); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, _ := startHub(t)
	slow := h.Subscribe(1)
	fast := h.Subscribe(8)

	h.Broadcast([]byte("1"))
	h.Broadcast([]byte("2"))

	recv(t, fast)
	recv(t, fast)

	if _, ok := recv(t, slow); !ok {
		t.Fatal("first message should be delivered")
	}
	if _, ok := recv(t, slow); ok {
		t.Error("slow client should be dropped")
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", h.ClientCount())
	}
}

func TestStop(t *testing.T) {
	h, cancel := startHub(t)
	sub := h.Subscribe(1)
	if !h.IsRunning() {
		t.Error("IsRunning() = false")
	}

	cancel()
	if _, ok := recv(t, sub); ok {
		t.Error("channel should be closed when the hub stops")
	}

	late := h.Subscribe(1)
	if _, ok := recv(t, late); ok {
		t.Error("subscribing to a stopped hub should return a closed channel")
	}
	late.Unsubscribe()
}
