package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// sseKeepAlive is the interval between comment frames on idle streams.
const sseKeepAlive = 15 * time.Second

// SSEHandler streams operation events as Server-Sent Events.
type SSEHandler struct {
	subscriber core.EventSubscriber
	keepAlive  time.Duration
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(subscriber core.EventSubscriber) *SSEHandler {
	return &SSEHandler{subscriber: subscriber, keepAlive: sseKeepAlive}
}

// Events handles GET /ojs/v1/events. ?operation_id= or ?tenant_id= narrow the
// stream; with neither, every event is sent.
func (h *SSEHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, core.NewInternalError("Streaming is not supported by this connection."))
		return
	}

	var (
		events      <-chan *core.OperationEvent
		unsubscribe func()
		err         error
	)
	q := r.URL.Query()
	switch {
	case q.Get("operation_id") != "":
		events, unsubscribe, err = h.subscriber.SubscribeOperation(q.Get("operation_id"))
	case q.Get("tenant_id") != "":
		events, unsubscribe, err = h.subscriber.SubscribeTenant(q.Get("tenant_id"))
	default:
		events, unsubscribe, err = h.subscriber.SubscribeAll()
	}
	if err != nil {
		HandleError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType, data)
			flusher.Flush()
		}
	}
}
