package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionctl/fusionctl/pkg/requester"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("FUSION_API_COLLECTION_URL", "")
	s, err := LoadSettings("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "console", s.Log.Format)
	assert.Equal(t, 60*time.Second, s.HTTP.Timeout)
	assert.Equal(t, 0, s.HTTP.Retries)
	assert.Equal(t, 1, s.Concurrency)
	assert.Equal(t, "none", s.Tracing.Exporter)
	assert.False(t, s.Storage.UseSSL)
}

func TestLoadSettings_Environment(t *testing.T) {
	t.Setenv("FUSION_API_COLLECTION_URL", "http://admin:x@fusion:8764/api/apollo/collections/c")
	t.Setenv("FUSION_HTTP_TIMEOUT", "5s")
	t.Setenv("FUSION_HTTP_RETRIES", "3")
	t.Setenv("FUSION_CONCURRENCY", "4")
	t.Setenv("FUSION_STORAGE_USE_SSL", "true")

	s, err := LoadSettings("", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://admin:x@fusion:8764/api/apollo/collections/c", s.APICollectionURL)
	assert.Equal(t, 5*time.Second, s.HTTP.Timeout)
	assert.Equal(t, 3, s.HTTP.Retries)
	assert.Equal(t, 4, s.Concurrency)
	assert.True(t, s.Storage.UseSSL)
}

func TestLoadSettings_DotEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "FUSION_LOG_LEVEL=debug\nFUSION_HISTORY_DB=/tmp/history.db\n")
	unsetenv(t, "FUSION_LOG_LEVEL", "FUSION_HISTORY_DB")

	s, err := LoadSettings(envFile, map[string]interface{}{"history_db": filepath.Join(dir, "h.db")})
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, filepath.Join(dir, "h.db"), s.HistoryDB)
}

func TestLoadSettings_EnvironmentWinsOverDotEnv(t *testing.T) {
	envFile := writeFile(t, t.TempDir(), ".env", "FUSION_LOG_LEVEL=debug\nFUSION_POLICY_DIR=/etc/fusion/policies\n")
	unsetenv(t, "FUSION_POLICY_DIR")
	t.Setenv("FUSION_LOG_LEVEL", "warn")

	s, err := LoadSettings(envFile, nil)
	require.NoError(t, err)

	assert.Equal(t, "warn", s.Log.Level)
	assert.Equal(t, "/etc/fusion/policies", s.PolicyDir)
}

func TestLoadSettings_MalformedDotEnv(t *testing.T) {
	envFile := writeFile(t, t.TempDir(), ".env", "bad!key=1\n")

	_, err := LoadSettings(envFile, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), envFile)
}

func TestLoadSettings_DisabledPolicies(t *testing.T) {
	t.Setenv("FUSION_DISABLED_POLICIES", "collection-naming,unique-identities")
	s, err := LoadSettings("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"collection-naming", "unique-identities"}, s.DisabledPolicies)

	s, err = LoadSettings("", map[string]interface{}{"disabled_policies": []string{"reserved-pipelines"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"reserved-pipelines"}, s.DisabledPolicies)
}

func TestLoadSettings_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "nope.env"), nil)
	assert.NoError(t, err)
}

func TestLoadSettings_DefaultURL(t *testing.T) {
	t.Setenv("FUSION_API_COLLECTION_URL", "")
	s, err := LoadSettings("", nil)
	require.NoError(t, err)
	assert.Equal(t, requester.DefaultURL, s.APICollectionURL)
}

// unsetenv removes keys for the duration of the test. Variables loaded from a
// .env file land in the process environment, so tests that load one clean up
// through t.Setenv.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
