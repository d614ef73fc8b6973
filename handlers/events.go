package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents streams change events
// @Summary      Stream change events
// @Description  Server-sent events stream of payment and document changes, for UI refresh. Delivery is best-effort; a slow consumer loses events and should re-read state.
// @Tags         events
// @Produce      text/event-stream
// @Success      200
// @Router       /events [get]
// @Security     BasicAuth
func StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, ch := Events.Subscribe(16)
	defer Events.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.ID, payload)
			flusher.Flush()
		}
	}
}
