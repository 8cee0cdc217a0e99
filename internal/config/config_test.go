package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Execution.MaxSteps)
	assert.Equal(t, 8000, cfg.Execution.MaxInputBytes)
	assert.Equal(t, 60*time.Second, cfg.Execution.InvokeTimeout)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, CoordinatorKeyword, cfg.Coordinator.Kind)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  cors_origins: ["https://app.example"]
execution:
  max_steps: 20
  invoke_timeout: 5s
store:
  driver: sqlite
  path: relay.db
  redact: ['\d{16}']
log:
  format: json
`), 0644))

	cfg, err := load(path, envMap(map[string]string{
		"RELAY_EXECUTION_MAX_STEPS":         "30",
		"RELAY_EXECUTION_MAX_INPUT_BYTES":   "16384",
		"RELAY_EXECUTION_PARALLEL_HANDOFFS": "true",
		"RELAY_STORE_LOCK_TTL":              "90s",
		"RELAY_SERVER_CORS_ORIGINS":         "a.example, b.example",
		"RELAY_SERVER_TRUST_PROXY":          "true",
		"RELAY_COORDINATOR_RPS":             "2.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, 30, cfg.Execution.MaxSteps)
	assert.Equal(t, 16384, cfg.Execution.MaxInputBytes)
	assert.Equal(t, 5*time.Second, cfg.Execution.InvokeTimeout)
	assert.True(t, cfg.Execution.ParallelHandoffs)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "relay.db", cfg.Store.Path)
	assert.Equal(t, []string{`\d{16}`}, cfg.Store.Redact)
	assert.Equal(t, 90*time.Second, cfg.Store.LockTTL)
	assert.Equal(t, 2.5, cfg.Coordinator.RPS)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"Max Steps Above Limit", map[string]string{"RELAY_EXECUTION_MAX_STEPS": "51"}, "max_steps"},
		{"Max Steps Not A Number", map[string]string{"RELAY_EXECUTION_MAX_STEPS": "ten"}, "RELAY_EXECUTION_MAX_STEPS"},
		{"Input Bytes Below Query Length", map[string]string{"RELAY_EXECUTION_MAX_INPUT_BYTES": "100"}, "max_input_bytes"},
		{"Unknown Driver", map[string]string{"RELAY_STORE_DRIVER": "mongo"}, "store.driver"},
		{"Remote Without URL", map[string]string{"RELAY_COORDINATOR_KIND": "remote"}, "coordinator.url"},
		{"Bad Duration", map[string]string{"RELAY_EXECUTION_INVOKE_TIMEOUT": "soon"}, "INVOKE_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [::"), 0644))

	_, err := load(path, envMap(nil))
	assert.ErrorContains(t, err, "failed to parse config file")
}
