package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aretw0/relay/internal/presentation/tui"
	"github.com/aretw0/relay/pkg/domain"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Server is the base URL of a running `relay serve`.
	Server      string
	SessionID   string
	JSON        bool
	Interactive bool
	Client      *http.Client
}

// Watch follows the events of a session published by a running server until ctx ends
// or the server closes the stream.
func Watch(ctx context.Context, opts WatchOptions, out io.Writer) error {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := strings.TrimRight(opts.Server, "/") + "/api/v1/threads/" + url.PathEscape(opts.SessionID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error connecting to %s: %w", opts.Server, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watch failed: %s", resp.Status)
	}

	printer := tui.NewPrinter(out, opts.Interactive)
	if !opts.JSON {
		printSystemMessage(out, "Watching session '%s'.", opts.SessionID)
	}

	err = readSSE(resp.Body, func(name, data string) error {
		if name == "ping" {
			return nil
		}
		if opts.JSON {
			_, err := fmt.Fprintln(out, data)
			return err
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		printer.Event(ev)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE calls fn for each frame of an event stream.
func readSSE(r io.Reader, fn func(name, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		name string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 || name != "" {
				if err := fn(name, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
