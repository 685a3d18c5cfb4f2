// Package bridge mirrors companion traffic onto Redis so other processes can
// follow broadcasts and inject signals.
//
// Broadcasts are published to companion:<id>:broadcasts. The latest
// session_state and device_state are also kept under companion:<id>:state:<type>
// for late joiners. Inbound signals are read from companion:<id>:signals.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-companion/pkg/protocol"
)

const (
	broadcastChannel = "companion:%s:broadcasts"
	signalChannel    = "companion:%s:signals"
	stateKey         = "companion:%s:state:%s"

	stateTTL       = 10 * time.Minute
	publishTimeout = 2 * time.Second
	signalTimeout  = 5 * time.Second
)

// ErrNoSnapshot is returned by Snapshot when nothing has been stored yet.
var ErrNoSnapshot = errors.New("bridge: no snapshot")

// SignalHandler receives inbound signals read from Redis.
type SignalHandler interface {
	HandleSignal(ctx context.Context, msg *protocol.Message) error
}

// Stats counts bridge traffic.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Signals   uint64 `json:"signals"`
	Rejected  uint64 `json:"rejected"`
}

// Bridge relays broadcasts to Redis and signals from it.
type Bridge struct {
	redis   *redis.Client
	logger  *slog.Logger
	id      string
	handler SignalHandler

	outbox chan *protocol.Message

	mu      sync.RWMutex
	running bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	signals   atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a bridge for the companion named id. handler may be nil to
// mirror broadcasts only.
func New(redisClient *redis.Client, id string, handler SignalHandler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		redis:   redisClient,
		logger:  logger.With("component", "bridge", "companion", id),
		id:      id,
		handler: handler,
		outbox:  make(chan *protocol.Message, 256),
	}
}

// BroadcastChannel is the Redis channel broadcasts are published to.
func (b *Bridge) BroadcastChannel() string { return fmt.Sprintf(broadcastChannel, b.id) }

// SignalChannel is the Redis channel inbound signals are read from.
func (b *Bridge) SignalChannel() string { return fmt.Sprintf(signalChannel, b.id) }

// Publish queues a broadcast. It never blocks; when the outbox is full the
// message is dropped.
func (b *Bridge) Publish(msg *protocol.Message) {
	select {
	case b.outbox <- msg:
	default:
		b.dropped.Add(1)
		b.logger.Warn("bridge outbox full, dropping broadcast", "type", msg.Type)
	}
}

// Run relays until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bridge: already running")
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	if err := b.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	var wg sync.WaitGroup
	if b.handler != nil {
		pubsub := b.redis.Subscribe(ctx, b.SignalChannel())
		// Confirm the subscription before reporting started.
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return fmt.Errorf("subscribe signals: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pubsub.Close()
			b.receiveSignals(ctx, pubsub)
		}()
	}

	b.logger.Info("bridge started", "broadcasts", b.BroadcastChannel(), "signals", b.SignalChannel())
	b.publishLoop(ctx)
	wg.Wait()
	b.logger.Info("bridge stopped")
	return ctx.Err()
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbox:
			if err := b.publish(ctx, msg); err != nil {
				b.failed.Add(1)
				b.logger.Error("publish broadcast", "type", msg.Type, "error", err)
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pipe := b.redis.Pipeline()
	pipe.Publish(ctx, b.BroadcastChannel(), data)
	if msg.Type == protocol.TypeSessionState || msg.Type == protocol.TypeDeviceState {
		pipe.Set(ctx, fmt.Sprintf(stateKey, b.id, msg.Type), data, stateTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	b.published.Add(1)
	return nil
}

func (b *Bridge) receiveSignals(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("signal subscription closed")
				return
			}
			b.handleSignal(ctx, msg.Payload)
		}
	}
}

func (b *Bridge) handleSignal(ctx context.Context, payload string) {
	signal, err := protocol.ParseMessage([]byte(payload))
	if err != nil || !signal.Type.Inbound() || signal.Type == protocol.TypePing {
		b.rejected.Add(1)
		b.logger.Warn("rejected signal", "payload_len", len(payload), "error", err)
		return
	}

	b.signals.Add(1)
	hctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()
	if err := b.handler.HandleSignal(hctx, signal); err != nil {
		b.logger.Warn("signal failed", "type", signal.Type, "error", err)
	}
}

// SendSignal publishes an inbound signal for the companion named id. It is
// the client side of the bridge, used by tools and other services.
func SendSignal(ctx context.Context, redisClient *redis.Client, id string, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := redisClient.Publish(ctx, fmt.Sprintf(signalChannel, id), data).Err(); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// Snapshot returns the last stored session_state or device_state broadcast.
func (b *Bridge) Snapshot(ctx context.Context, t protocol.MessageType) (*protocol.Message, error) {
	data, err := b.redis.Get(ctx, fmt.Sprintf(stateKey, b.id, t)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &msg, nil
}

// GetStats returns traffic counters.
func (b *Bridge) GetStats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
		Signals:   b.signals.Load(),
		Rejected:  b.rejected.Load(),
	}
}
