package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Identity.UserID = "alice"
	cfg.Identity.GroupID = "g1"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Gateway.Address)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Call.SetupTimeout.Std())
	assert.NotEmpty(t, cfg.WebRTC.ICEServers)
	assert.Equal(t, "available", cfg.Media.Microphone)
}

func TestValidate_RequiresIdentity(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.user_id")
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsEmptyICEServers(t *testing.T) {
	cfg := validConfig()
	cfg.WebRTC.ICEServers = nil
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ice_servers")
}

func TestValidate_RejectsBadMediaMode(t *testing.T) {
	cfg := validConfig()
	cfg.Media.Microphone = "maybe"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RedisBackendNeedsAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "redis"
	cfg.Redis.Address = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_AuthNeedsSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoad_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
identity:
  user_id: alice
  group_id: g1
gateway:
  address: ":9999"
  read_timeout: 10s
call:
  setup_timeout: 5s
store:
  backend: memory
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Gateway.Address)
	assert.Equal(t, "alice", cfg.Identity.UserID)
	assert.Equal(t, 10*time.Second, cfg.Gateway.ReadTimeout.Std())
	assert.Equal(t, 5*time.Second, cfg.Call.SetupTimeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PEERCALL_GATEWAY_ADDRESS", ":7777")
	t.Setenv("PEERCALL_USER_ID", "bob")
	t.Setenv("PEERCALL_GROUP_ID", "g2")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Gateway.Address)
	assert.Equal(t, "bob", cfg.Identity.UserID)
}
