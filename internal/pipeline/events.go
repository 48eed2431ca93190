package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxsub/subgen/internal/metrics"
)

// Event is one pipeline progress notification, fanned out to SSE
// subscribers.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "stage" or "failed"
	JobID     string `json:"job_id"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Bus provides pub-sub event distribution for SSE subscribers. Slow
// subscribers drop events rather than stall publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64
}

type subscriber struct {
	ch    chan Event
	jobID string // "" = all jobs
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]subscriber)}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. A non-empty jobID restricts delivery to that job's events.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, jobID: jobID}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(e Event) {
	now := time.Now()
	seq := b.seq.Add(1)
	e.ID = fmt.Sprintf("%d-%d", now.UnixMilli(), seq)
	e.Timestamp = now.UTC().Format(time.RFC3339)

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.jobID != "" && sub.jobID != e.JobID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
	metrics.SSEEventsPublishedTotal.Inc()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
