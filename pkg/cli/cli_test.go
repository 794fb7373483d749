package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hyperdrive.yaml")
	body = "node:\n  id: cli-test\n  data_dir: " + filepath.Join(dir, "data") + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const sqliteProviders = `
providers:
  - id: primary
    type: sqlite
    dsn: primary.db
    priority: 1
  - id: replica
    type: sqlite
    dsn: replica.db
    priority: 2
logging:
  level: error
`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, sqliteProviders)
	out, _, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid (2 providers)")
}

func TestValidateReportsEveryError(t *testing.T) {
	path := writeConfig(t, `
providers:
  - id: a
    type: mongo
  - id: a
    type: sqlite
`)
	_, errOut, err := run(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, errOut, "Configuration has")
	assert.Contains(t, errOut, "mongo")
	assert.Contains(t, errOut, `"a"`)
}

func TestValidateUnknownKey(t *testing.T) {
	path := writeConfig(t, "gatway:\n  enabled: true\n")
	_, _, err := run(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestExecSaveThenLoad(t *testing.T) {
	path := writeConfig(t, sqliteProviders)

	out, _, err := run(t, "exec", "save", "user-1", "--config", path,
		"--payload", `{"name":"ada"}`, "--replication", "quorum", "--replicas", "2", "--key", "k1")
	require.NoError(t, err)
	var envelope struct {
		IsError  bool `json:"is_error"`
		Attempts []struct {
			Provider string `json:"provider"`
		} `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	assert.False(t, envelope.IsError)
	assert.Len(t, envelope.Attempts, 2)

	out, _, err = run(t, "exec", "load", "user-1", "--config", path, "--only", "replica", "--raw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada"}`, out)
}

func TestExecMissingTargetFails(t *testing.T) {
	path := writeConfig(t, sqliteProviders)
	out, _, err := run(t, "exec", "load", "nobody", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, out, `"is_error": true`)
}

func TestExecRejectsBadFlags(t *testing.T) {
	path := writeConfig(t, sqliteProviders)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown kind", []string{"exec", "upsert", "x"}},
		{"unknown provider", []string{"exec", "load", "x", "--only", "primary,ghost"}},
		{"bad replication", []string{"exec", "save", "x", "--replication", "all"}},
		{"both payloads", []string{"exec", "save", "x", "--payload", "a", "--payload-file", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, append(tt.args, "--config", path)...)
			assert.Error(t, err)
		})
	}
}

func TestProvidersCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/providers", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"providers":[
			{"id":"primary","category":"document_store","priority":1,"active":true,"health":"healthy","consecutive_failures":0,
			 "performance":{"latency_ewma":1500000,"successes":4,"failures":0}},
			{"id":"replica","category":"document_store","priority":2,"active":false,"health":"unavailable","consecutive_failures":3}
		]}`))
	}))
	defer srv.Close()

	out, _, err := run(t, "providers", "--gateway", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "HEALTH")
	assert.Regexp(t, `primary\s+document_store\s+1\s+true\s+healthy\s+0\s+1\.5ms`, out)
	assert.Regexp(t, `replica\s+document_store\s+2\s+false\s+unavailable\s+3\s+-`, out)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "hyperdrive test\n", out)
}
