package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		LogLevel: "info",
		Edge: config.EdgeConfig{
			Listen:         ":8000",
			DatabasePath:   "sigillo.db",
			BatchThreshold: 1023,
			Cloud: config.CloudClientConfig{
				BaseURL: "http://localhost:8080",
				Timeout: 10 * time.Second,
			},
			Workers: config.WorkersConfig{
				SensorInterval:  20 * time.Second,
				SensorDelay:     5 * time.Second,
				SensorLimit:     3,
				ProcessInterval: time.Minute,
				ProcessDelay:    10 * time.Second,
				DeliverInterval: time.Minute,
				DeliverDelay:    5 * time.Second,
				DeliverLimit:    1,
			},
		},
		Cloud: config.CloudConfig{
			Listen: ":8080",
			APIKeys: map[string]config.APIUser{
				"fog-key":   {Name: "fog-producer", Role: config.RoleProducer},
				"audit-key": {Name: "auditor", Role: config.RoleVerifier},
			},
		},
		Verify: config.VerifyConfig{
			CloudBaseURL: "http://localhost:8080",
			GatewayURL:   "https://ipfs.filebase.io/ipfs",
			Timeout:      10 * time.Second,
		},
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Threshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold int
		wantErr   bool
	}{
		{name: "1023 is 2^10-1", threshold: 1023, wantErr: false},
		{name: "3 is 2^2-1", threshold: 3, wantErr: false},
		{name: "1 is 2^1-1", threshold: 1, wantErr: false},
		{name: "63 is 2^6-1", threshold: 63, wantErr: false},
		{name: "1024 rejected", threshold: 1024, wantErr: true},
		{name: "100 rejected", threshold: 100, wantErr: true},
		{name: "zero rejected", threshold: 0, wantErr: true},
		{name: "negative rejected", threshold: -3, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			cfg.Edge.BatchThreshold = tc.threshold

			err := cfg.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidThreshold)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_Workers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Edge.Workers.ProcessInterval = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidInterval)

	cfg = validConfig()
	cfg.Edge.Workers.SensorDelay = -time.Second
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidDelay)

	cfg = validConfig()
	cfg.Edge.Workers.SensorLimit = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidLimit)
}

func TestValidate_Roles(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Cloud.APIKeys["bad"] = config.APIUser{Name: "x", Role: "admin"}

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidRole)
}

func TestValidate_LogLevel(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogLevel = "trace"

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidLogLevel)
}

func TestValidate_Timeouts(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Edge.Cloud.Timeout = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidTimeout)

	cfg = validConfig()
	cfg.Verify.Timeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidTimeout)
}

func TestValidate_NegativeRateLimit(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Edge.IngestRateLimit = -1

	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidRateLimit)
}

func TestLevel_Mapping(t *testing.T) {
	t.Parallel()

	cfg := validConfig()

	cfg.LogLevel = "debug"
	assert.Equal(t, "DEBUG", cfg.Level().String())

	cfg.LogLevel = "error"
	assert.Equal(t, "ERROR", cfg.Level().String())
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultBatchThreshold, cfg.Edge.BatchThreshold)
	assert.Equal(t, config.DefaultObjectStoreBucket, cfg.Edge.ObjectStore.Bucket)
	assert.Equal(t, config.DefaultSensorInterval, cfg.Edge.Workers.SensorInterval)
	assert.Equal(t, config.DefaultGatewayURL, cfg.Verify.GatewayURL)
	assert.Equal(t, config.DefaultOutboundTimeout, cfg.Edge.Cloud.Timeout)
}

func TestLoad_FromFileAndAPIKeysEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigillo.yaml")

	yaml := []byte(`
log_level: debug
edge:
  batch_threshold: 3
  workers:
    sensor_limit: 2
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("SIGILLO_CLOUD_API_KEYS", `{"k1":{"name":"fog","role":"produttore"}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Edge.BatchThreshold)
	assert.Equal(t, 2, cfg.Edge.Workers.SensorLimit)

	require.Contains(t, cfg.Cloud.APIKeys, "k1")
	assert.Equal(t, "fog", cfg.Cloud.APIKeys["k1"].Name)
	assert.Equal(t, config.RoleProducer, cfg.Cloud.APIKeys["k1"].Role)
}

func TestLoad_RejectsInvalidThresholdFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigillo.yaml")

	require.NoError(t, os.WriteFile(path, []byte("edge:\n  batch_threshold: 10\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidThreshold)
}

func TestLoad_RejectsMalformedAPIKeysEnv(t *testing.T) {
	t.Setenv("SIGILLO_CLOUD_API_KEYS", "{not json")

	_, err := config.Load("")
	assert.Error(t, err)
}
