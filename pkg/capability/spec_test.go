package capability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/relay/pkg/adapters/process"
	"github.com/aretw0/relay/pkg/capability"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_Build(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":"remote says hi"}`))
	}))
	defer srv.Close()

	f := capability.Factory{Tools: process.NewRunner(), Client: srv.Client()}

	tests := []struct {
		name    string
		spec    capability.Spec
		want    string
		wantErr error
	}{
		{name: "Default Is Stub", spec: capability.Spec{ID: "cloud"}, want: "[STUB] cloud"},
		{name: "Static", spec: capability.Spec{ID: "faq", Kind: capability.KindStatic, Content: "see FAQ"}, want: "see FAQ"},
		{name: "Remote", spec: capability.Spec{ID: "web", Kind: capability.KindRemote, URL: srv.URL}, want: "remote says hi"},
		{name: "Unregistered Tool", spec: capability.Spec{ID: "x", Kind: capability.KindProcess, Tool: "nope"}, wantErr: process.ErrToolNotRegistered},
		{name: "Unknown Kind", spec: capability.Spec{ID: "x", Kind: "ftp"}, wantErr: capability.ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.Build(tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			msg, err := c.Invoke(context.Background(), "task", nil)
			require.NoError(t, err)
			assert.Contains(t, msg.Content, tt.want)
		})
	}

	t.Run("Remote Requires URL", func(t *testing.T) {
		_, err := f.Build(capability.Spec{ID: "web", Kind: capability.KindRemote})
		assert.Error(t, err)
	})
}

func TestWithTimeout(t *testing.T) {
	slow := ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	})

	_, err := capability.WithTimeout(slow, 10*time.Millisecond).Invoke(context.Background(), "t", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRoutes(t *testing.T) {
	routes, fallback := capability.Routes([]capability.Spec{
		{ID: "web", Keywords: []string{"news"}},
		{ID: "docs", Fallback: true},
		{ID: "other", Fallback: true},
	})

	assert.Equal(t, []capability.Route{{Worker: "web", Keywords: []string{"news"}}}, routes)
	assert.Equal(t, "docs", fallback)
}
