// Package api provides the HTTP ingestion surface and WebSocket
// infrastructure for real-time alert and log broadcasting.
package api

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Stream names for hub subscriptions.
const (
	StreamAlerts = "alerts"
	StreamLogs   = "logs"
)

// Envelope is the wire format pushed to WebSocket subscribers.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

// Subscriber receives broadcast payloads for one stream. Deliver must not
// block; returning false tells the hub the subscriber cannot keep up and
// should be dropped. Close is called at most once, by the hub.
type Subscriber interface {
	Deliver(payload []byte) bool
	Close()
}

type subscription struct {
	sub    Subscriber
	stream string
}

type broadcastMsg struct {
	stream  string
	payload []byte
}

// Hub fans out alerts and normalized events to live subscribers. Each
// subscriber belongs to exactly one stream and sees that stream's messages
// in publish order.
type Hub struct {
	subscribers map[Subscriber]string

	broadcast  chan broadcastMsg
	register   chan subscription
	unregister chan Subscriber

	logger  *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// NewHub creates a hub. Start must be called before publishing.
func NewHub(ctx context.Context, logger *zap.SugaredLogger) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		subscribers: make(map[Subscriber]string),
		broadcast:   make(chan broadcastMsg, 256),
		register:    make(chan subscription),
		unregister:  make(chan Subscriber),
		logger:      logger,
		ctx:         hubCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start runs the hub's event loop in its own goroutine. Call exactly once.
func (h *Hub) Start() {
	h.started.Store(true)
	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)

	h.logger.Info("Broadcast hub started")

	for {
		select {
		case <-h.ctx.Done():
			for sub := range h.subscribers {
				sub.Close()
			}
			h.subscribers = make(map[Subscriber]string)
			h.logger.Info("Broadcast hub stopped")
			return

		case reg := <-h.register:
			h.subscribers[reg.sub] = reg.stream
			metrics.WebsocketClients.WithLabelValues(reg.stream).Inc()
			h.logger.Debugw("Subscriber registered",
				"stream", reg.stream,
				"total_subscribers", len(h.subscribers))

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			for sub, stream := range h.subscribers {
				if stream != msg.stream {
					continue
				}
				if !sub.Deliver(msg.payload) {
					// A full subscriber buffer means the peer is not
					// draining; drop it rather than stall the stream.
					h.logger.Warnw("Dropping slow subscriber", "stream", stream)
					h.remove(sub)
				}
			}
		}
	}
}

func (h *Hub) remove(sub Subscriber) {
	stream, ok := h.subscribers[sub]
	if !ok {
		return
	}
	delete(h.subscribers, sub)
	sub.Close()
	metrics.WebsocketClients.WithLabelValues(stream).Dec()
	h.logger.Debugw("Subscriber unregistered",
		"stream", stream,
		"total_subscribers", len(h.subscribers))
}

// Subscribe attaches a subscriber to a stream.
func (h *Hub) Subscribe(sub Subscriber, stream string) {
	select {
	case h.register <- subscription{sub: sub, stream: stream}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe detaches a subscriber. Safe to call for a subscriber the hub
// already dropped.
func (h *Hub) Unsubscribe(sub Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.ctx.Done():
	}
}

// PublishAlert broadcasts an admitted alert to the alerts stream. Never
// blocks the caller; under sustained backlog the message is dropped.
func (h *Hub) PublishAlert(alert *core.Alert) {
	h.publish(StreamAlerts, Envelope{
		Type:      "alert",
		Timestamp: alert.Timestamp,
		Message:   alert.Description,
		Data:      alert,
	})
}

// PublishEvent broadcasts a normalized event to the logs stream.
func (h *Hub) PublishEvent(event *core.Event) {
	h.publish(StreamLogs, Envelope{
		Type:      "log",
		Timestamp: event.Timestamp,
		Message:   event.Message,
		Data:      event,
	})
}

func (h *Hub) publish(stream string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Errorw("Failed to marshal broadcast envelope",
			"stream", stream,
			"error", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{stream: stream, payload: payload}:
	default:
		h.logger.Warnw("Broadcast queue full, dropping message", "stream", stream)
	}
}

// Stop shuts down the hub and closes every subscriber. Safe to call even
// when the run loop was never started, as in partial-startup teardown.
func (h *Hub) Stop() {
	h.cancel()
	if h.started.Load() {
		<-h.done
	}
}
