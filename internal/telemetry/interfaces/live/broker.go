package live

import (
	"encoding/json"
	"log"
	"sync"

	"groundcontrol/internal/observability/metrics"
	telemetry "groundcontrol/internal/telemetry/domain"
)

// EventLogs is the event name of telemetry broadcasts.
const EventLogs = "logs"

// viewerBuffer is the number of batches held per viewer before drops begin.
const viewerBuffer = 16

// Message is one push to a live viewer.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Broker fans telemetry batches out to connected viewers. Each viewer
// buffers up to 16 batches; once its buffer is full further batches are
// dropped for that viewer until it catches up. Broadcast never blocks.
type Broker struct {
	mu      sync.RWMutex
	viewers map[chan Message]struct{}
	closed  bool
	logger  *log.Logger
}

// NewBroker constructs a broker.
func NewBroker(logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{viewers: make(map[chan Message]struct{}), logger: logger}
}

// Broadcast implements the ingest Broadcaster. The batch is encoded once and
// pushed to every viewer as a single message.
func (b *Broker) Broadcast(records []telemetry.Record) {
	if b == nil || len(records) == 0 {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		b.logger.Printf("live: encode broadcast: %v", err)
		return
	}
	b.publish(Message{Event: EventLogs, Data: data})
}

func (b *Broker) publish(msg Message) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-broadcast.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	metrics.IncLiveBroadcast()
	for ch := range b.viewers {
		select {
		case ch <- msg:
		default:
			metrics.IncLiveDropped()
		}
	}
}

// Subscribe registers a new viewer channel. It returns nil once the broker
// is closed.
func (b *Broker) Subscribe() chan Message {
	if b == nil {
		return nil
	}
	ch := make(chan Message, viewerBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.viewers[ch] = struct{}{}
	metrics.SetLiveViewers(len(b.viewers))
	return ch
}

// Unsubscribe removes a viewer channel and closes it.
func (b *Broker) Unsubscribe(ch chan Message) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.viewers[ch]; !ok {
		return
	}
	delete(b.viewers, ch)
	close(ch)
	metrics.SetLiveViewers(len(b.viewers))
}

// Viewers returns the number of connected viewers.
func (b *Broker) Viewers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}

// Close disconnects every viewer. Later subscriptions are refused.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.viewers {
		delete(b.viewers, ch)
		close(ch)
	}
	metrics.SetLiveViewers(0)
}
