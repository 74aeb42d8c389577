package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// Events serves the account lifecycle stream over Server-Sent Events. An
// optional ?type= query restricts the stream to one event type, e.g.
// ?type=token.issued.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	if _, ok := a.currentUser(w, r); !ok {
		return
	}
	wantType := r.URL.Query().Get("type")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.hub.Subscribe(ctx)

	// Open the stream with a comment frame so proxies commit the response.
	_, _ = w.Write([]byte(": idgate event stream\n\n"))
	flusher.Flush()

	for event := range ch {
		if wantType != "" && event.Type != wantType {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + event.Type + "\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
