package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"videojobs/internal/common"
	"videojobs/internal/domain/model"
	"videojobs/internal/platform/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	return &config.Config{
		JWTKey:                []byte("cli-secret"),
		JWTExp:                time.Hour,
		DBDriver:              "sqlite3",
		SQLitePath:            filepath.Join(dir, "jobs.db"),
		RedisAddr:             mr.Addr(),
		RenderQueueName:       "render",
		RenderJobName:         "video-render",
		RenderJobAttempts:     3,
		RenderJobBackoff:      time.Second,
		RenderJobBackoffType:  "exponential",
		SubjectLockPrefix:     "lock:",
		SubjectLockTTLSeconds: 60,
		PipelineEnabled:       true,
		PipelineGateKey:       "video_pipeline:enabled",
		CanaryPolicyPath:      filepath.Join(dir, "missing.yaml"),
		CanaryUsagePrefix:     "canary:usage:",
		DefaultListLimit:      20,
	}
}

func run(t *testing.T, cfg *config.Config, args ...string) ([]byte, error) {
	t.Helper()
	cmd := NewRootCommand(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.Bytes(), err
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(testConfig(t))
	for _, name := range []string{"migrate", "submit", "retry", "status", "list", "lineage", "stats", "canary", "gate", "brief", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestSubmitLifecycle(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "brief", "brief-001", "--vertical", "auto", "--gamme-alias", "Clio V", "--gamme-id", "42")
	require.NoError(t, err)
	brief := decode[model.Subject](t, out)
	require.NotNil(t, brief.Gamme)
	assert.Equal(t, "clio-v", brief.Gamme.Alias)

	out, err = run(t, cfg, "submit", "brief-001")
	require.NoError(t, err)
	submitted := decode[map[string]string](t, out)
	id := submitted["execution_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "exec-"+id, submitted["queue_job_handle"])

	_, err = run(t, cfg, "submit", "brief-001")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.ErrorIs(t, err, common.ErrActiveJobConflict)

	out, err = run(t, cfg, "status", id)
	require.NoError(t, err)
	row := decode[model.ExecutionLog](t, out)
	assert.Equal(t, model.ExecutionStatusPending, row.Status)
	assert.Equal(t, model.TriggerSourceManual, row.TriggerSource)
	require.NotNil(t, row.Gamme)
	assert.Equal(t, int64(42), row.Gamme.ID)

	out, err = run(t, cfg, "list", "brief-001", "--limit", "5")
	require.NoError(t, err)
	assert.Len(t, decode[[]model.ExecutionLog](t, out), 1)

	out, err = run(t, cfg, "lineage", id)
	require.NoError(t, err)
	assert.Len(t, decode[[]model.ExecutionLog](t, out), 1)

	_, err = run(t, cfg, "retry", id)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidStateTransition)

	out, err = run(t, cfg, "stats", "--window", "all")
	require.NoError(t, err)
	stats := decode[model.ExecutionStats](t, out)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["pending"])
}

func TestRejectionsAndUsageErrors(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "submit", "brief-404")
	assert.ErrorIs(t, err, common.ErrSubjectNotFound)
	assert.Equal(t, ExitRejected, GetExitCode(err))

	_, err = run(t, cfg, "status", "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = run(t, cfg, "stats", "--window", "30d")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, cfg, "list", "brief-001", "--limit", "-1")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGateCommand(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "brief", "brief-002", "--vertical", "moto")
	require.NoError(t, err)

	out, err := run(t, cfg, "gate", "off")
	require.NoError(t, err)
	assert.False(t, decode[gateState](t, out).Enabled)

	_, err = run(t, cfg, "submit", "brief-002")
	assert.ErrorIs(t, err, common.ErrPipelineDisabled)

	out, err = run(t, cfg, "gate", "clear")
	require.NoError(t, err)
	assert.True(t, decode[gateState](t, out).Enabled)

	_, err = run(t, cfg, "gate", "maybe")
	assert.Error(t, err)

	_, err = run(t, cfg, "submit", "brief-002")
	assert.NoError(t, err)
}

func TestTokenAndCanary(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "token", "alice", "--role", "viewer", "--ttl", "10m")
	require.NoError(t, err)
	tok := decode[tokenOutput](t, out)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, "viewer", tok.Role)

	_, err = run(t, cfg, "token", "alice", "--role", "admin")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = run(t, cfg, "canary")
	require.NoError(t, err)
	snap := decode[model.CanaryPolicySnapshot](t, out)
	assert.Equal(t, "standard", snap.EngineName)
	assert.False(t, snap.Enabled)
	assert.Equal(t, int64(0), snap.RemainingToday)

	out, err = run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", decode[map[string]string](t, out)["driver"])
}
