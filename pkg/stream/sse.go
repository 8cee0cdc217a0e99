package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WriteSSE writes one event as a Server-Sent Events frame.
func WriteSSE(w io.Writer, event any, name string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WritePing writes the connection handshake frame.
func WritePing(w io.Writer) error {
	if _, err := fmt.Fprint(w, "event: ping\ndata: connected\n\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
