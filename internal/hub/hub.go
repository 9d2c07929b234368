// Package hub fans device-state updates out to every connected dashboard
// session. Publishing is best-effort and never blocks the ingestion path:
// each subscriber has a bounded queue and the oldest queued update is
// dropped when a slow consumer falls behind (the dashboard reconciles via
// periodic polling, so a dropped intermediate state is recovered).
package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/V1vekW/OPTIC-SHIELD/internal/models"
)

// DefaultQueueSize is the per-subscriber queue depth used when the
// configured value is missing or invalid
const DefaultQueueSize = 16

// Subscriber is one live dashboard session's view of the update stream
type Subscriber struct {
	hub *Hub
	ch  chan *models.Device
}

// Events returns the update channel. It is closed on Close, ending the
// sequence.
func (s *Subscriber) Events() <-chan *models.Device {
	return s.ch
}

// Close unsubscribes and releases the queue. Safe to call once per
// subscriber; the hub never delivers to a closed handle.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

// Hub is the broadcast fan-out from ingestion to dashboard sessions
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	queueSize int
}

// NewHub creates a hub with the given per-subscriber queue depth
func NewHub(queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a new session. A subscriber only sees updates
// published after registration; there is no replay.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		hub: h,
		ch:  make(chan *models.Device, h.queueSize),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	log.Debug().Int("subscribers", count).Msg("Dashboard session subscribed")
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers a device snapshot to every live subscriber. Per
// subscriber the delivery is FIFO; when a queue is full the oldest
// queued update is dropped to make room.
func (h *Hub) Publish(device *models.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- device:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- device:
			default:
			}
		}
	}
}

// Subscribers returns the current subscriber count
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
