package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/time/rate"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// maxErrorBody bounds how much of an error response is kept in the fault detail.
const maxErrorBody = 512

// ErrBadResponse is returned when the remote answers with an undecodable body.
var ErrBadResponse = errors.New("bad response from remote capability")

// RemoteRequest is the body posted to a remote capability.
// Tools lists the handoffs a coordinator may call; workers receive none.
type RemoteRequest struct {
	Task     string           `json:"task"`
	Messages []domain.Message `json:"messages"`
	Tools    []RemoteTool     `json:"tools,omitempty"`
}

// RemoteTool describes one transfer_to_<worker> handoff to a remote coordinator.
type RemoteTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// handoffParameters is the JSON schema of every handoff tool's arguments.
var handoffParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task_description": map[string]any{
			"type":        "string",
			"description": "The scoped task the worker should perform.",
		},
	},
	"required": []string{"task_description"},
}

// RemoteCall is one tool call returned by a remote coordinator.
// Name is a handoff tool name such as "transfer_to_search".
type RemoteCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// RemoteResponse is the body a remote capability answers with.
type RemoteResponse struct {
	Content string       `json:"content"`
	Calls   []RemoteCall `json:"calls,omitempty"`
}

// handoffArgs are the arguments of a transfer_to_<worker> call.
type handoffArgs struct {
	TaskDescription string `mapstructure:"task_description"`
}

// Remote invokes a capability over HTTP.
type Remote struct {
	id      string
	url     string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
	tools   []RemoteTool
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		r.client = c
	}
}

// WithRateLimit throttles outbound requests to rps with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) RemoteOption {
	return func(r *Remote) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithWorkers offers one handoff tool per worker, described by its delegation
// description. Used when the remote capability is the coordinator.
func WithWorkers(workers []ports.WorkerInfo) RemoteOption {
	return func(r *Remote) {
		r.tools = make([]RemoteTool, len(workers))
		for i, w := range workers {
			r.tools[i] = RemoteTool{
				Name:        domain.HandoffToolName(w.ID),
				Description: w.Description,
				Parameters:  handoffParameters,
			}
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) RemoteOption {
	return func(r *Remote) {
		r.header.Add(key, value)
	}
}

// NewRemote creates a capability posting to url. id is the producer of returned messages.
func NewRemote(id, url string, opts ...RemoteOption) *Remote {
	r := &Remote{
		id:     id,
		url:    url,
		client: http.DefaultClient,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke implements ports.Capability.
func (r *Remote) Invoke(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return domain.Message{}, err
		}
	}

	body, err := json.Marshal(RemoteRequest{Task: task, Messages: view, Tools: r.tools})
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return domain.Message{}, err
	}
	for k, vs := range r.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Message{}, r.statusError(resp)
	}

	var out RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	calls := make([]domain.HandoffRequest, 0, len(out.Calls))
	for _, call := range out.Calls {
		handoff, err := decodeCall(call)
		if err != nil {
			return domain.Message{}, err
		}
		calls = append(calls, handoff)
	}
	return domain.NewAssistantMessage(r.id, out.Content, calls...), nil
}

// decodeCall converts a tool call into a handoff request.
// A name without the handoff prefix is kept as-is so the executor rejects it as unknown.
func decodeCall(call RemoteCall) (domain.HandoffRequest, error) {
	var args handoffArgs
	if err := mapstructure.Decode(call.Args, &args); err != nil {
		return domain.HandoffRequest{}, fmt.Errorf("%w: call %s: %v", ErrBadResponse, call.Name, err)
	}
	worker, ok := domain.WorkerFromToolName(call.Name)
	if !ok {
		worker = call.Name
	}
	return domain.HandoffRequest{
		TargetWorker:    worker,
		TaskDescription: args.TaskDescription,
		RequestID:       call.ID,
	}, nil
}

func (r *Remote) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.CapabilityError{
			Worker:     r.id,
			Kind:       domain.FaultRateLimited,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%w: %s", domain.ErrRateLimited, msg),
		}
	case resp.StatusCode == http.StatusBadRequest && mentionsQuota(msg):
		return &domain.CapabilityError{
			Worker: r.id,
			Kind:   domain.FaultRateLimited,
			Err:    fmt.Errorf("%w: %s", domain.ErrRateLimited, msg),
		}
	case resp.StatusCode == http.StatusGatewayTimeout:
		return &domain.CapabilityError{
			Worker: r.id,
			Kind:   domain.FaultTimeout,
			Err:    fmt.Errorf("%w: %s", domain.ErrCapabilityTimeout, msg),
		}
	}
	return &domain.CapabilityError{
		Worker: r.id,
		Kind:   domain.FaultUpstream,
		Err:    fmt.Errorf("remote returned %d: %s", resp.StatusCode, msg),
	}
}

func mentionsQuota(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "resource exhausted")
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
