// Package sse fans realtime pipeline updates out to Server-Sent Events and
// WebSocket clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/salesboard/internal/metrics"
)

// Event types.
const (
	EventSnapshot = "opportunities.snapshot"
	EventStages   = "stages.updated"
	EventStatus   = "status.updated"
)

// Event represents an event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Framing selects how events are encoded for a subscriber.
type Framing int

const (
	// FramingSSE yields "event: <type>\ndata: <json>\n\n" frames.
	FramingSSE Framing = iota
	// FramingJSON yields one {"type","data"} JSON document per event.
	FramingJSON
)

type subscription struct {
	ch      chan []byte
	framing Framing
}

// Option configures a Broker.
type Option func(*Broker)

// WithMetrics tracks the number of connected clients.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// Broker manages realtime client connections and broadcasts events.
//
// A single internal event loop owns the client set, the latest snapshot and
// the snapshot throttle. Public methods talk to it through channels.
type Broker struct {
	snapshotMin time.Duration
	metrics     *metrics.Metrics

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	snapshotCh    chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. Snapshots published less than snapshotThrottle
// apart are coalesced; the newest one is sent when the interval elapses.
func NewBroker(snapshotThrottle time.Duration, opts ...Option) *Broker {
	if snapshotThrottle <= 0 {
		snapshotThrottle = 250 * time.Millisecond
	}

	b := &Broker{
		snapshotMin:   snapshotThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		snapshotCh:    make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func encode(event Event, framing Framing) ([]byte, error) {
	if framing == FramingJSON {
		return json.Marshal(event)
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]Framing)
	var (
		latest   *Event
		pending  *Event
		lastSent time.Time
		timer    *time.Timer
		timerC   <-chan time.Time
	)

	broadcast := func(event Event) {
		var frames [2][]byte
		for ch, framing := range clients {
			if frames[framing] == nil {
				raw, err := encode(event, framing)
				if err != nil {
					return
				}
				frames[framing] = raw
			}
			select {
			case ch <- frames[framing]:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendSnapshot := func(event Event) {
		broadcast(event)
		lastSent = time.Now()
		pending = nil
	}

	for {
		select {
		case <-b.stopCh:
			if timer != nil {
				timer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			b.metrics.ClientConnected(-len(clients))
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.framing
			b.metrics.ClientConnected(1)
			// New clients start from the most recent snapshot.
			if latest != nil {
				if raw, err := encode(*latest, sub.framing); err == nil {
					sub.ch <- raw
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				b.metrics.ClientConnected(-1)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case event := <-b.snapshotCh:
			latest = &event
			since := time.Since(lastSent)
			if since >= b.snapshotMin {
				sendSnapshot(event)
				continue
			}
			pending = &event
			if timerC == nil {
				timer = time.NewTimer(b.snapshotMin - since)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			if pending != nil {
				sendSnapshot(*pending)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new SSE client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeFramed(FramingSSE)
}

// SubscribeFramed adds a new client receiving events in the given framing.
func (b *Broker) SubscribeFramed(framing Framing) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, framing: framing}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSnapshot publishes the full opportunity collection, throttled.
func (b *Broker) PublishSnapshot(data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.snapshotCh <- Event{Type: EventSnapshot, Data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
