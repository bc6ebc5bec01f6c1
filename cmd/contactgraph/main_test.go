package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-contactgraph/pkg/config"
	"github.com/dd0wney/cluso-contactgraph/pkg/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func memoryConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "contactgraph.yaml")
	body := "store_connection:\n  graph:\n    backend: memory\n  relational:\n    dsn: " +
		filepath.Join(dir, "out.db") + "\ncheckpoint:\n  enabled: false\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestListOps(t *testing.T) {
	out, err := execute(t, "--list-ops")
	require.NoError(t, err)
	assert.Equal(t, pipeline.Operations, strings.Fields(out))
}

func TestRequiresOneChain(t *testing.T) {
	_, err := execute(t)
	assert.Error(t, err)
	_, err = execute(t, "connect", "load_nodes")
	assert.Error(t, err)
}

func TestMissingHostnameFails(t *testing.T) {
	t.Setenv(config.EnvNeo4jHostname, "")
	t.Setenv(config.EnvConfigPath, "")
	_, err := execute(t, "connect")
	assert.ErrorIs(t, err, config.ErrNoHostname)
}

func TestUnknownOpFailsBeforeRunning(t *testing.T) {
	_, err := execute(t, "-c", memoryConfig(t), "connect->create_output_db->frobnicate")
	assert.ErrorIs(t, err, pipeline.ErrUnknownOp)
}

func TestMemoryBackendChain(t *testing.T) {
	_, err := execute(t, "-c", memoryConfig(t), "--run-id", "test", "neo4j_driver->create_constraints->create_indexes->create_output_db")
	assert.NoError(t, err)
}
