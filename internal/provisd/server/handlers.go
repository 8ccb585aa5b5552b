package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/provisboard/provisd/internal/provisd/delivery"
	"github.com/provisboard/provisd/internal/provisd/domain"
	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/errors"
)

// handleDelivery authorizes one artifact download and answers with a
// redirect to the backing location. The response never carries file bytes
// and never explains a denial.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("constant") != s.cfg.Delivery.PathConstant {
		http.NotFound(w, r)
		return
	}

	artifact := r.PathValue("artifact")
	sig := r.URL.Query().Get("sig")
	if artifact == "" || sig == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	location, err := s.gateway.Resolve(r.Context(), delivery.ResolveRequest{
		Addr:     clientAddr(r),
		Region:   r.PathValue("region"),
		Artifact: artifact,
		Token:    sig,
		Tool:     r.Header.Get("User-Agent"),
	})
	if err != nil {
		// Unknown regions look like any other missing path; everything
		// else is a uniform forbidden.
		if errors.Is(err, errors.ErrUnknownRegion) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Signed URLs expire; a cached redirect would outlive its token
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

// handleEvents streams an owner's transition events as server-sent events.
// Delivery is live-only: events published while the client is disconnected
// are not replayed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")

	// A slow consumer drops events rather than stalling the hub
	events := make(chan domain.TransitionEvent, s.cfg.Notify.StreamBufferSize)
	unsubscribe := s.hub.Subscribe(owner, func(event domain.TransitionEvent) {
		select {
		case events <- event:
		default:
			s.logger.Warn("dropping event for slow stream consumer", "owner", owner)
		}
	})
	defer unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(config.MustDuration(s.cfg.Notify.HeartbeatInterval))
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			// Comment lines keep intermediaries from closing an idle stream
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to marshal transition event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
