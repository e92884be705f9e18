package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	s, err := Load("couchbase://localhost/default")
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, s.Timeouts.Operation)
	require.Equal(t, "off", s.Compression.Mode)
	require.Equal(t, "default", s.Bucket)
	require.False(t, s.TLS.Enabled)
}

func TestLoadCouchbasesEnablesTLS(t *testing.T) {
	s, err := Load("couchbases://localhost/default")
	require.NoError(t, err)
	require.True(t, s.TLS.Enabled)
}

func TestLoadConnStrOptionOverridesDefault(t *testing.T) {
	s, err := Load("couchbase://localhost/default?operation_timeout=9s")
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, s.Timeouts.Operation)
}

func TestLoadRejectsSubFloorPersistenceTimeout(t *testing.T) {
	_, err := Load("couchbase://localhost/default?persistence_timeout_floor=10ms")
	require.Error(t, err)
}

func TestLoadRejectsSubFloorConfigPollInterval(t *testing.T) {
	_, err := Load("couchbase://localhost/default?config_poll_interval=10ms")
	require.Error(t, err)
}

func TestLoadAllowsZeroConfigPollIntervalToDisablePolling(t *testing.T) {
	s, err := Load("couchbase://localhost/default?config_poll_interval=0")
	require.NoError(t, err)
	require.Zero(t, s.ConfigPollInterval)
}

func TestLoadBucketCredOverridesCredentials(t *testing.T) {
	s, err := Load(`couchbase://localhost/default?bucket_cred=["bob","secret"]`)
	require.NoError(t, err)
	user, pass := s.EffectiveCredentials()
	require.Equal(t, "bob", user)
	require.Equal(t, "secret", pass)
}

func TestEnvOverrideWinsOverConnStr(t *testing.T) {
	t.Setenv("LCB_SSL_MODE", "on")
	s, err := Load("couchbase://localhost/default")
	require.NoError(t, err)
	require.True(t, s.TLS.Enabled)
}

func TestLCBOptionsEnvOverridesOperationTimeout(t *testing.T) {
	os.Setenv("LCB_OPTIONS", "operation_timeout=30s")
	t.Cleanup(func() { os.Unsetenv("LCB_OPTIONS") })
	s, err := Load("couchbase://localhost/default")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, s.Timeouts.Operation)
}

func TestRetryConfigParsePolicy(t *testing.T) {
	r := RetryConfig{Raw: "topochange:all,sockerr:all,missingnode:safe"}
	p := r.ParsePolicy()
	require.Equal(t, "all", p["topochange"])
	require.Equal(t, "safe", p["missingnode"])
}
