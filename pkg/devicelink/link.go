// Package devicelink manages websocket connections from companion devices:
// inbound signals are throttled, parsed and handed to a SignalHandler, and
// broadcasts are written back to every connected device.
package devicelink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-companion/pkg/protocol"
)

// ErrNoDevice is returned when a message targets a device that is not
// connected.
var ErrNoDevice = errors.New("devicelink: no device connected")

// SignalHandler consumes inbound device signals.
type SignalHandler interface {
	HandleSignal(ctx context.Context, msg *protocol.Message) error
}

// Config controls per-connection throttling.
type Config struct {
	// SignalRate is the sustained inbound message rate per connection.
	SignalRate rate.Limit
	// SignalBurst allows short bursts such as audio chunks.
	SignalBurst int
	// SignalTimeout bounds how long one signal may take to handle.
	SignalTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultConfig returns the standard throttling settings.
func DefaultConfig() Config {
	return Config{
		SignalRate:    50,
		SignalBurst:   100,
		SignalTimeout: 5 * time.Second,
	}
}

// Device represents a connected device
type Device struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	limiter *rate.Limiter
	mu      sync.Mutex
}

// Send writes a message to the device
func (d *Device) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Conn.WriteMessage(websocket.TextMessage, data)
}

func (d *Device) touch() {
	d.mu.Lock()
	d.LastSeen = time.Now()
	d.mu.Unlock()
}

// Link manages websocket connections from devices
type Link struct {
	cfg     Config
	log     *slog.Logger
	handler SignalHandler

	mu      sync.RWMutex
	devices map[string]*Device

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	throttled        atomic.Uint64
	rejected         atomic.Uint64
}

// New creates a link that forwards signals to handler.
func New(handler SignalHandler, cfg Config) *Link {
	def := DefaultConfig()
	if cfg.SignalRate <= 0 {
		cfg.SignalRate = def.SignalRate
	}
	if cfg.SignalBurst <= 0 {
		cfg.SignalBurst = def.SignalBurst
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = def.SignalTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Link{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "devicelink"),
		handler: handler,
		devices: make(map[string]*Device),
	}
}

// RegisterRoutes registers the device websocket endpoint on r.
func (l *Link) RegisterRoutes(r fiber.Router) {
	r.Use("/ws/device", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get("/ws/device", websocket.New(l.handleDevice))
	r.Get("/ws/device/:id", websocket.New(l.handleDevice))
}

// handleDevice handles a device websocket connection
func (l *Link) handleDevice(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	dev := &Device{
		ID:        id,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
		limiter:   rate.NewLimiter(l.cfg.SignalRate, l.cfg.SignalBurst),
	}

	l.mu.Lock()
	if prev, ok := l.devices[id]; ok {
		l.log.Warn("device reconnected, replacing connection", "device", id)
		prev.Conn.Close()
	}
	l.devices[id] = dev
	count := len(l.devices)
	l.mu.Unlock()

	l.log.Info("device connected", "device", id, "devices", count)

	defer func() {
		l.mu.Lock()
		if l.devices[id] == dev {
			delete(l.devices, id)
		}
		count := len(l.devices)
		l.mu.Unlock()
		l.log.Info("device disconnected", "device", id, "devices", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			l.log.Debug("device read ended", "device", id, "error", err)
			return
		}
		dev.touch()
		l.messagesReceived.Add(1)
		l.handleMessage(dev, data)
	}
}

// handleMessage processes one inbound frame from a device
func (l *Link) handleMessage(dev *Device, data []byte) {
	if !dev.limiter.Allow() {
		l.throttled.Add(1)
		l.reply(dev, "rate_limited", errors.New("too many signals, slow down"))
		return
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		l.rejected.Add(1)
		l.reply(dev, "bad_message", err)
		return
	}

	if msg.Type == protocol.TypePing {
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		pong, err := protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		if err == nil {
			l.send(dev, pong)
		}
		return
	}

	if !msg.Type.Inbound() {
		l.rejected.Add(1)
		l.reply(dev, "bad_message", protocol.ErrUnknownType)
		return
	}

	if l.handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SignalTimeout)
	defer cancel()
	if err := l.handler.HandleSignal(ctx, msg); err != nil {
		l.log.Warn("signal rejected", "device", dev.ID, "type", msg.Type, "error", err)
		l.reply(dev, "signal_failed", err)
	}
}

func (l *Link) reply(dev *Device, code string, err error) {
	msg, mErr := protocol.NewErrorMessage(code, err)
	if mErr != nil {
		return
	}
	l.send(dev, msg)
}

func (l *Link) send(dev *Device, msg *protocol.Message) {
	l.messagesSent.Add(1)
	if err := dev.Send(msg); err != nil {
		l.log.Debug("send to device failed", "device", dev.ID, "error", err)
	}
}

// SendTo sends a message to a specific device
func (l *Link) SendTo(id string, msg *protocol.Message) error {
	l.mu.RLock()
	dev, ok := l.devices[id]
	l.mu.RUnlock()

	if !ok {
		return ErrNoDevice
	}

	l.messagesSent.Add(1)
	return dev.Send(msg)
}

// Publish sends a message to all connected devices
func (l *Link) Publish(msg *protocol.Message) {
	for _, dev := range l.Devices() {
		l.send(dev, msg)
	}
}

// Devices returns all connected devices
func (l *Link) Devices() []*Device {
	l.mu.RLock()
	defer l.mu.RUnlock()

	devices := make([]*Device, 0, len(l.devices))
	for _, d := range l.devices {
		devices = append(devices, d)
	}
	return devices
}

// DeviceCount returns the number of connected devices
func (l *Link) DeviceCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.devices)
}

// Stats contains link statistics
type Stats struct {
	DeviceCount      int    `json:"device_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Throttled        uint64 `json:"throttled"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns link statistics
func (l *Link) GetStats() Stats {
	return Stats{
		DeviceCount:      l.DeviceCount(),
		MessagesReceived: l.messagesReceived.Load(),
		MessagesSent:     l.messagesSent.Load(),
		Throttled:        l.throttled.Load(),
		Rejected:         l.rejected.Load(),
	}
}

// DeviceInfo contains info about a connected device
type DeviceInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// DeviceInfos returns info about all connected devices
func (l *Link) DeviceInfos() []DeviceInfo {
	devices := l.Devices()
	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		d.mu.Lock()
		infos = append(infos, DeviceInfo{
			ID:        d.ID,
			Connected: d.Connected,
			LastSeen:  d.LastSeen,
		})
		d.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers device listing routes
func (l *Link) RegisterAPIRoutes(api fiber.Router) {
	devices := api.Group("/devices")

	devices.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": l.DeviceInfos(),
			"count":   l.DeviceCount(),
		})
	})

	devices.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(l.GetStats())
	})
}
