package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/pkg/capability"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.NewRegistry()
	reg.MustRegister("docs", "Searches documents.", capability.Static("docs", "policy v1 allows economy"))

	coordinator := capability.NewKeywordCoordinator([]capability.Route{
		{Worker: "docs", Keywords: []string{"policy"}},
	})
	eng, err := relay.New(coordinator, reg)
	require.NoError(t, err)
	return NewServer(eng)
}

func TestServer_QueryAndMessages(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	created, err := s.handleCreateSession(ctx, mcp.CallToolRequest{}, struct{}{})
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionKey)

	report, err := s.handleQuery(ctx, mcp.CallToolRequest{}, QueryArgs{Query: "policy?", SessionKey: created.SessionKey})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, report.WorkersUsed)
	assert.Contains(t, report.Answer, "policy v1 allows economy")

	msgs, err := s.handleMessages(ctx, mcp.CallToolRequest{}, SessionArgs{SessionKey: created.SessionKey})
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 4)
	assert.Equal(t, domain.RoleTool, msgs.Messages[2].Role)
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleQuery(ctx, mcp.CallToolRequest{}, QueryArgs{Query: ""})
	assert.Error(t, err)

	_, err = s.handleQuery(ctx, mcp.CallToolRequest{}, QueryArgs{Query: "policy", MaxSteps: 1})
	assert.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Contains(t, err.Error(), "iteration_limit")

	_, err = s.handleMessages(ctx, mcp.CallToolRequest{}, SessionArgs{SessionKey: "missing"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestServer_SessionIDAlias(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	report, err := s.handleQuery(ctx, mcp.CallToolRequest{}, QueryArgs{Query: "policy?", SessionID: "legacy"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", report.SessionKey)

	msgs, err := s.handleMessages(ctx, mcp.CallToolRequest{}, SessionArgs{SessionID: "legacy"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", msgs.SessionKey)
}

func TestServer_ResultFieldNames(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	report, err := s.handleQuery(ctx, mcp.CallToolRequest{}, QueryArgs{Query: "policy?", SessionKey: "names"})
	require.NoError(t, err)
	raw, err := json.Marshal(report)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, name := range []string{"answer", "session_key", "elapsed_ms", "workers_used"} {
		assert.Contains(t, fields, name)
	}
	assert.NotContains(t, fields, "final_answer")
	assert.NotContains(t, fields, "session_id")
}
