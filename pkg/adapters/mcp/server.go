package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/internal/presentation/graph"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/stream"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Resource URIs.
const (
	WorkersURI = "relay://workers"
	GraphURI   = "relay://graph"
)

// QueryArgs are the arguments of the query tool. session_id is accepted as an
// alias of session_key.
type QueryArgs struct {
	Query      string `json:"query"`
	SessionKey string `json:"session_key,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	MaxSteps   int    `json:"max_steps,omitempty"`
}

// SessionArgs are the arguments of tools addressing one session.
type SessionArgs struct {
	SessionKey string `json:"session_key"`
	SessionID  string `json:"session_id,omitempty"`
}

// key resolves the session key, honouring the session_id alias.
func (a SessionArgs) key() string {
	if a.SessionKey != "" {
		return a.SessionKey
	}
	return a.SessionID
}

// MessagesResult is the ordered log of a session.
type MessagesResult struct {
	SessionKey string                `json:"session_key" jsonschema_description:"The session key"`
	Messages   []*domain.MessageView `json:"messages" jsonschema_description:"Messages in append order"`
}

// SessionResult carries a newly created session key.
type SessionResult struct {
	SessionKey string `json:"session_key" jsonschema_description:"The new session key"`
}

// Server wraps an orchestrator and exposes it as an MCP server.
type Server struct {
	engine    ports.Orchestrator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the MCP server.
type Option func(*Server)

// WithLogger sets the diagnostics logger. Stdout belongs to the protocol; log to stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.Orchestrator, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("relay-mcp", relay.Version),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Submit a query to the coordinator and wait for the final answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question or task, 1 to 2000 characters")),
		mcp.WithString("session_key", mcp.Description("Continue this session (optional, a new one is created otherwise)")),
		mcp.WithNumber("max_steps", mcp.Description("Step budget for this execution (optional, 1 to 50)")),
		mcp.WithOutputSchema[domain.Report](),
	)
	s.mcpServer.AddTool(queryTool, mcp.NewStructuredToolHandler(s.handleQuery))

	messagesTool := mcp.NewTool("get_messages",
		mcp.WithDescription("Get the ordered message log of a session."),
		mcp.WithString("session_key", mcp.Required(), mcp.Description("The session key")),
		mcp.WithOutputSchema[MessagesResult](),
	)
	s.mcpServer.AddTool(messagesTool, mcp.NewStructuredToolHandler(s.handleMessages))

	createTool := mcp.NewTool("create_session",
		mcp.WithDescription("Reserve a new session key."),
		mcp.WithOutputSchema[SessionResult](),
	)
	s.mcpServer.AddTool(createTool, mcp.NewStructuredToolHandler(s.handleCreateSession))

	s.mcpServer.AddTool(mcp.NewTool("list_workers",
		mcp.WithDescription("List the workers the coordinator can hand off to."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.Marshal(s.engine.Workers())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode workers: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleQuery(ctx context.Context, request mcp.CallToolRequest, args QueryArgs) (domain.Report, error) {
	report, err := s.engine.Submit(ctx, domain.Request{
		Query:      args.Query,
		SessionKey: SessionArgs{SessionKey: args.SessionKey, SessionID: args.SessionID}.key(),
		MaxSteps:   args.MaxSteps,
	})
	if err != nil {
		detail := stream.Describe(err)
		s.logger.Warn("MCP query failed", "kind", detail.Kind, "err", err)
		return domain.Report{}, fmt.Errorf("query failed (%s): %w", detail.Kind, err)
	}
	return *report, nil
}

func (s *Server) handleMessages(ctx context.Context, request mcp.CallToolRequest, args SessionArgs) (MessagesResult, error) {
	key := args.key()
	log, err := s.engine.Messages(ctx, key)
	if err != nil {
		return MessagesResult{}, fmt.Errorf("get messages: %w", err)
	}
	views := make([]*domain.MessageView, 0, len(log))
	for _, m := range log {
		views = append(views, stream.View(m))
	}
	return MessagesResult{SessionKey: key, Messages: views}, nil
}

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest, _ struct{}) (SessionResult, error) {
	key, err := s.engine.CreateSession(ctx)
	if err != nil {
		return SessionResult{}, fmt.Errorf("create session: %w", err)
	}
	return SessionResult{SessionKey: key}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(WorkersURI, "Worker Catalog",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.engine.Workers())
		if err != nil {
			return nil, fmt.Errorf("encode workers: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: WorkersURI, MIMEType: "application/json", Text: string(jsonBytes)},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Handoff Graph",
		mcp.WithMIMEType("text/vnd.mermaid"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "text/vnd.mermaid",
				Text:     graph.GenerateMermaid("", s.engine.Workers(), nil),
			},
		}, nil
	})
}
