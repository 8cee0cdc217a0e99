package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// BasePath prefixes every API route.
const BasePath = "/api/v1"

// StreamChatParams defines parameters for StreamChat.
type StreamChatParams struct {
	Query      string  `form:"query" json:"query"`
	SessionKey *string `form:"session_key,omitempty" json:"session_key,omitempty"`
	SessionId  *string `form:"session_id,omitempty" json:"session_id,omitempty"`
	MaxSteps   *int    `form:"max_steps,omitempty" json:"max_steps,omitempty"`
}

// GetGraphParams defines parameters for GetGraph.
type GetGraphParams struct {
	ThreadId *string `form:"thread_id,omitempty" json:"thread_id,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /query)
	SubmitQuery(w http.ResponseWriter, r *http.Request)
	// (GET /chat/stream)
	StreamChat(w http.ResponseWriter, r *http.Request, params StreamChatParams)
	// (GET /threads)
	ListThreads(w http.ResponseWriter, r *http.Request)
	// (POST /threads)
	CreateThread(w http.ResponseWriter, r *http.Request)
	// (DELETE /threads/{thread_id})
	DeleteThread(w http.ResponseWriter, r *http.Request, threadID string)
	// (GET /threads/{thread_id}/messages)
	GetThreadMessages(w http.ResponseWriter, r *http.Request, threadID string)
	// (GET /threads/{thread_id}/events)
	WatchThread(w http.ResponseWriter, r *http.Request, threadID string)
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (GET /graph)
	GetGraph(w http.ResponseWriter, r *http.Request, params GetGraphParams)
	// (GET /info)
	GetInfo(w http.ResponseWriter, r *http.Request)
}

// wrapper binds path and query parameters before calling the handler.
type wrapper struct {
	handler ServerInterface
	onError func(w http.ResponseWriter, r *http.Request, err error)
}

func (sw *wrapper) streamChat(w http.ResponseWriter, r *http.Request) {
	var params StreamChatParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, true, "query", q, &params.Query); err != nil {
		sw.onError(w, r, fmt.Errorf("invalid format for parameter query: %w", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "session_key", q, &params.SessionKey); err != nil {
		sw.onError(w, r, fmt.Errorf("invalid format for parameter session_key: %w", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "session_id", q, &params.SessionId); err != nil {
		sw.onError(w, r, fmt.Errorf("invalid format for parameter session_id: %w", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "max_steps", q, &params.MaxSteps); err != nil {
		sw.onError(w, r, fmt.Errorf("invalid format for parameter max_steps: %w", err))
		return
	}

	sw.handler.StreamChat(w, r, params)
}

func (sw *wrapper) getGraph(w http.ResponseWriter, r *http.Request) {
	var params GetGraphParams
	if err := runtime.BindQueryParameter("form", true, false, "thread_id", r.URL.Query(), &params.ThreadId); err != nil {
		sw.onError(w, r, fmt.Errorf("invalid format for parameter thread_id: %w", err))
		return
	}
	sw.handler.GetGraph(w, r, params)
}

func (sw *wrapper) withThreadID(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var threadID string
		err := runtime.BindStyledParameterWithOptions("simple", "thread_id", chi.URLParam(r, "thread_id"), &threadID,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			sw.onError(w, r, fmt.Errorf("invalid format for parameter thread_id: %w", err))
			return
		}
		next(w, r, threadID)
	}
}

// HandlerFromMux mounts the API routes of si on r under BasePath.
func HandlerFromMux(si ServerInterface, r chi.Router, onError func(http.ResponseWriter, *http.Request, error)) http.Handler {
	sw := &wrapper{handler: si, onError: onError}

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/query", si.SubmitQuery)
		r.Get("/chat/stream", sw.streamChat)
		r.Get("/threads", si.ListThreads)
		r.Post("/threads", si.CreateThread)
		r.Delete("/threads/{thread_id}", sw.withThreadID(si.DeleteThread))
		r.Get("/threads/{thread_id}/messages", sw.withThreadID(si.GetThreadMessages))
		r.Get("/threads/{thread_id}/events", sw.withThreadID(si.WatchThread))
		r.Get("/health", si.GetHealth)
		r.Get("/graph", sw.getGraph)
		r.Get("/info", si.GetInfo)
	})
	return r
}
