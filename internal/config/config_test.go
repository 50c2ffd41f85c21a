package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validKey() string {
	return base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
}

func baseConfig() Config {
	return Config{
		EncryptionKey:         validKey(),
		CronSecret:            "cron-secret",
		WorkerCount:           8,
		JobMaxAttempts:        5,
		PaperCheckpointTarget: 3,
		StaleAfterSeconds:     300,
		BackoffBase:           2 * time.Second,
		BackoffCap:            5 * time.Minute,
	}
}

func TestValidateSecretsAcceptsValidConfig(t *testing.T) {
	require.NoError(t, baseConfig().ValidateSecrets())
}

func TestValidateSecretsRejectsBadKey(t *testing.T) {
	c := baseConfig()
	c.EncryptionKey = "not base64!!"
	require.Error(t, c.ValidateSecrets())

	c.EncryptionKey = base64.URLEncoding.EncodeToString([]byte("short"))
	require.Error(t, c.ValidateSecrets())

	c.EncryptionKey = ""
	require.Error(t, c.ValidateSecrets())
}

func TestValidateSecretsRequiresCronSecret(t *testing.T) {
	c := baseConfig()
	c.CronSecret = ""
	require.Error(t, c.ValidateSecrets())

	// The legacy alias satisfies the requirement.
	c.TaskSigningSecret = "legacy-secret"
	require.NoError(t, c.ValidateSecrets())
}

func TestResolvedCronSecretPrefersNewName(t *testing.T) {
	c := Config{CronSecret: "new", TaskSigningSecret: "old"}
	assert.Equal(t, "new", c.ResolvedCronSecret())

	c.CronSecret = ""
	assert.Equal(t, "old", c.ResolvedCronSecret())
}

func TestValidateValues(t *testing.T) {
	require.NoError(t, baseConfig().ValidateValues())

	c := baseConfig()
	c.WorkerCount = 0
	assert.Error(t, c.ValidateValues())

	c = baseConfig()
	c.WorkerCount = 100
	assert.Error(t, c.ValidateValues())

	c = baseConfig()
	c.JobMaxAttempts = 0
	assert.Error(t, c.ValidateValues())

	c = baseConfig()
	c.StaleAfterSeconds = 0
	assert.Error(t, c.ValidateValues())

	c = baseConfig()
	c.BackoffCap = time.Second
	assert.Error(t, c.ValidateValues())
}

func TestEncryptionKeyBytesRoundTrip(t *testing.T) {
	c := baseConfig()
	key := c.EncryptionKeyBytes()
	assert.Equal(t, bytes.Repeat([]byte{7}, 32), key[:])
}

func TestEnvModeHelpers(t *testing.T) {
	assert.True(t, Config{AppEnv: "dev"}.IsDev())
	assert.True(t, Config{AppEnv: "PROD"}.IsProd())
	assert.True(t, Config{AppEnv: "production"}.IsProd())
	assert.True(t, Config{AppEnv: "test"}.IsTest())
	assert.False(t, Config{AppEnv: "dev"}.IsProd())
}

func TestLoadStrategyDefaultsBuiltIn(t *testing.T) {
	s, err := LoadStrategyDefaults("")
	require.NoError(t, err)
	assert.Equal(t, "wheel_csp", s.Name)
	assert.Equal(t, 35, s.DTETarget)
}

func TestLoadStrategyDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: momentum\ndte_target: 21\n"), 0o600))

	s, err := LoadStrategyDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, "momentum", s.Name)
	assert.Equal(t, 21, s.DTETarget)
	// Unset fields keep the built-in defaults.
	assert.Equal(t, 0.30, s.DeltaTarget)
}

func TestLoadStrategyDefaultsMissingFile(t *testing.T) {
	_, err := LoadStrategyDefaults(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
