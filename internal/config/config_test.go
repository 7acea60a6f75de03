package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaultsWithGeneratedServerID(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, RolePlay, cfg.Role)
	assert.NotEmpty(t, cfg.ServerID)
}

func TestLoadOverlaysYamlOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "play.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_id: play-7\ntcp_port: 19000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "play-7", cfg.ServerID)
	assert.Equal(t, 19000, cfg.TCPPort)
	// Untouched fields keep their Default() values.
	assert.Equal(t, 30000, cfg.RequestTimeoutMs)
}

func TestLoadGeneratesDistinctServerIDsWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp_port: 0\n"), 0o644))

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)

	assert.NotEmpty(t, first.ServerID)
	assert.NotEqual(t, first.ServerID, second.ServerID)
}

func TestLoadFromEnvOrPathPrefersEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_id: from-env\n"), 0o644))
	t.Setenv("PLAYHOUSE_TEST_CONFIG", path)

	cfg, err := LoadFromEnvOrPath("PLAYHOUSE_TEST_CONFIG", filepath.Join(t.TempDir(), "unused.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ServerID)
}
