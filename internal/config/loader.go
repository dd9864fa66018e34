package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".sigillo"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for sigillo settings.
const envPrefix = "SIGILLO"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// apiKeysEnv optionally carries the cloud API key table as a JSON object
// of the form {"<key>": {"name": "...", "role": "produttore"}}.
const apiKeysEnv = "SIGILLO_CLOUD_API_KEYS"

// Load loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	keysErr := applyAPIKeysEnv(&cfg)
	if keysErr != nil {
		return nil, keysErr
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// applyAPIKeysEnv overrides the cloud API key table from the environment,
// the deployment channel for secrets that must not live in a config file.
func applyAPIKeysEnv(cfg *Config) error {
	raw := os.Getenv(apiKeysEnv)
	if raw == "" {
		return nil
	}

	keys := make(map[string]APIUser)

	err := json.Unmarshal([]byte(raw), &keys)
	if err != nil {
		return fmt.Errorf("parse %s: %w", apiKeysEnv, err)
	}

	cfg.Cloud.APIKeys = keys

	return nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("log_level", DefaultLogLevel)

	viperCfg.SetDefault("edge.listen", DefaultEdgeListen)
	viperCfg.SetDefault("edge.database_path", DefaultDatabasePath)
	viperCfg.SetDefault("edge.batch_threshold", DefaultBatchThreshold)
	viperCfg.SetDefault("edge.ingest_rate_limit", 0)

	viperCfg.SetDefault("edge.cloud.base_url", DefaultCloudBaseURL)
	viperCfg.SetDefault("edge.cloud.api_key", "")
	viperCfg.SetDefault("edge.cloud.timeout", DefaultOutboundTimeout)

	viperCfg.SetDefault("edge.object_store.endpoint", DefaultObjectStoreEndpoint)
	viperCfg.SetDefault("edge.object_store.bucket", DefaultObjectStoreBucket)
	viperCfg.SetDefault("edge.object_store.region", DefaultObjectStoreRegion)
	viperCfg.SetDefault("edge.object_store.access_key", "")
	viperCfg.SetDefault("edge.object_store.secret_key", "")
	viperCfg.SetDefault("edge.object_store.compress", DefaultObjectStoreCompress)

	viperCfg.SetDefault("edge.workers.sensor_interval", DefaultSensorInterval)
	viperCfg.SetDefault("edge.workers.sensor_delay", DefaultSensorDelay)
	viperCfg.SetDefault("edge.workers.sensor_limit", DefaultSensorLimit)
	viperCfg.SetDefault("edge.workers.process_interval", DefaultProcessInterval)
	viperCfg.SetDefault("edge.workers.process_delay", DefaultProcessDelay)
	viperCfg.SetDefault("edge.workers.deliver_interval", DefaultDeliverInterval)
	viperCfg.SetDefault("edge.workers.deliver_delay", DefaultDeliverDelay)
	viperCfg.SetDefault("edge.workers.deliver_limit", DefaultDeliverLimit)

	viperCfg.SetDefault("edge.artifacts.dir", "")
	viperCfg.SetDefault("edge.artifacts.compress", true)

	viperCfg.SetDefault("cloud.listen", DefaultCloudListen)
	viperCfg.SetDefault("cloud.database_url", "")

	viperCfg.SetDefault("verify.cloud_base_url", DefaultCloudBaseURL)
	viperCfg.SetDefault("verify.api_key", "")
	viperCfg.SetDefault("verify.gateway_url", DefaultGatewayURL)
	viperCfg.SetDefault("verify.timeout", DefaultOutboundTimeout)

	viperCfg.SetDefault("telemetry.listen", DefaultTelemetryListen)
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
}
