// ABOUTME: Tests for configuration loading, env expansion, durations, and validation.
// ABOUTME: Writes temp YAML files and asserts on the parsed Config.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: secret
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.Agents.HeartbeatInterval)
	assert.Equal(t, 45*time.Second, cfg.Agents.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Commands.AckTimeout)
	assert.Equal(t, "queue", cfg.Commands.OfflinePolicy)
	assert.Equal(t, 100, cfg.Commands.OfflineQueueSize)
	assert.Equal(t, 15*time.Second, cfg.Sessions.StartTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transfers.AcceptTimeout)
	assert.Equal(t, 10.0, cfg.Limits.CommandRate)
	assert.Equal(t, 20, cfg.Limits.CommandBurst)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_ParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: secret
agents:
  heartbeat_interval: 5s
  heartbeat_timeout: 20s
commands:
  ack_timeout: 1m
sessions:
  start_timeout: 10s
transfers:
  accept_timeout: 90s
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Agents.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, cfg.Agents.HeartbeatTimeout)
	assert.Equal(t, time.Minute, cfg.Commands.AckTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sessions.StartTimeout)
	assert.Equal(t, 90*time.Second, cfg.Transfers.AcceptTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: secret
commands:
  ack_timeout: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands.ack_timeout")
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VIGIL_TEST_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: ${VIGIL_TEST_SECRET}
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	// jwt_secret expands to "" and fails validation.
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: ${VIGIL_DEFINITELY_UNSET_VAR}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_RequiresDatabasePath(t *testing.T) {
	_, err := Load(writeConfig(t, `
auth:
  jwt_secret: secret
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidate_OfflinePolicy(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: secret
commands:
  offline_policy: retry
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline_policy")
}

func TestValidate_HeartbeatTimeoutMustExceedInterval(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/vigil.db
auth:
  jwt_secret: secret
agents:
  heartbeat_interval: 30s
  heartbeat_timeout: 30s
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_timeout")
}
