// Package notify fans lifecycle transitions out to live dashboard
// subscribers and, for completed installs, to the owner's linked messaging
// channel. Delivery is best-effort live telemetry: nothing is replayed
// after a disconnect or across restarts.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/provisboard/provisd/internal/provisd/domain"
	"github.com/provisboard/provisd/pkg/logger"
)

// Callback receives one transition event. Callbacks run synchronously from
// Publish; a panicking callback is isolated and logged, never propagated.
type Callback func(event domain.TransitionEvent)

// Messenger is the external messaging bot integration. Only completed
// transitions are forwarded, and only for owners with a linked, enabled
// channel; intermediate states are dashboard-only to keep the channel quiet.
type Messenger interface {
	// Linked reports whether the owner has the channel linked and enabled
	Linked(owner string) bool

	// InstallCompleted delivers a completion notice to the owner's channel
	InstallCompleted(ctx context.Context, owner string, event domain.TransitionEvent) error
}

// NopMessenger is a Messenger with no linked owners
type NopMessenger struct{}

func (NopMessenger) Linked(string) bool { return false }

func (NopMessenger) InstallCompleted(context.Context, string, domain.TransitionEvent) error {
	return nil
}

// Hub is the in-process notification fan-out. Subscriber state is owned by
// the instance, not by the process, so tests and multiple instances never
// share it.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Callback
	nextID int64

	messenger        Messenger
	messengerTimeout time.Duration
	logger           *logger.Logger
}

// NewHub creates a hub forwarding completions through messenger.
// A nil messenger disables the secondary channel entirely.
func NewHub(messenger Messenger, messengerTimeout time.Duration) *Hub {
	if messengerTimeout <= 0 {
		messengerTimeout = 5 * time.Second
	}
	return &Hub{
		subs:             make(map[string]map[int64]Callback),
		messenger:        messenger,
		messengerTimeout: messengerTimeout,
		logger:           logger.WithField("component", "notification-hub"),
	}
}

// Subscribe registers a callback for one owner's events and returns the
// matching unsubscribe function. Unsubscribing twice is harmless.
func (h *Hub) Subscribe(owner string, callback Callback) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if h.subs[owner] == nil {
		h.subs[owner] = make(map[int64]Callback)
	}
	h.subs[owner][id] = callback

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if owned := h.subs[owner]; owned != nil {
			delete(owned, id)
			if len(owned) == 0 {
				delete(h.subs, owner)
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers for an owner
func (h *Hub) SubscriberCount(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}

// Publish delivers event to every live subscriber of event.Owner, at most
// once each. A failing subscriber never prevents delivery to the others.
func (h *Hub) Publish(event domain.TransitionEvent) {
	h.mu.RLock()
	callbacks := make([]Callback, 0, len(h.subs[event.Owner]))
	for _, cb := range h.subs[event.Owner] {
		callbacks = append(callbacks, cb)
	}
	h.mu.RUnlock()

	for _, cb := range callbacks {
		h.deliver(cb, event)
	}

	if event.Status == domain.StatusCompleted {
		h.forwardCompletion(event)
	}
}

func (h *Hub) deliver(cb Callback, event domain.TransitionEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber callback panicked",
				"owner", event.Owner, "jobId", event.JobID, "panic", r)
		}
	}()
	cb(event)
}

// forwardCompletion sends the completion to the messaging channel exactly
// once per completed transition, for owners that have one linked.
func (h *Hub) forwardCompletion(event domain.TransitionEvent) {
	if h.messenger == nil || !h.messenger.Linked(event.Owner) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.messengerTimeout)
	defer cancel()

	if err := h.messenger.InstallCompleted(ctx, event.Owner, event); err != nil {
		h.logger.Warn("messenger delivery failed",
			"owner", event.Owner, "jobId", event.JobID, "error", err)
	}
}
