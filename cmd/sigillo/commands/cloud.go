package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigillo-iot/sigillo/internal/cloudapi"
	"github.com/sigillo-iot/sigillo/internal/cloudstore"
	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/observability"
)

// ErrNoDatabaseURL is returned when the cloud command starts without a
// configured Postgres URL.
var ErrNoDatabaseURL = errors.New("cloud.database_url is required")

// ErrNoAPIKeys is returned when no API key is configured; a keyless cloud
// service would reject every request.
var ErrNoAPIKeys = errors.New("cloud.api_keys is empty")

// NewCloudCommand creates the cloud subcommand: the ingest service the
// producer delivers to and the verifier reads from.
func NewCloudCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Run the cloud ingest service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if cfg.Cloud.DatabaseURL == "" {
				return ErrNoDatabaseURL
			}

			if len(cfg.Cloud.APIKeys) == 0 {
				return ErrNoAPIKeys
			}

			return runCloud(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runCloud(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(cfg.Level(), true, "cloud")

	st, err := cloudstore.Open(ctx, cfg.Cloud.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	telemetry, err := setupTelemetry(ctx, cfg, log, st.Ping)
	if err != nil {
		return err
	}
	defer telemetry.close(ctx, log)

	httpMetrics, err := observability.NewHTTPMetrics(telemetry.meter("sigillo/cloud/http"))
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	server := cloudapi.New(st, cfg.Cloud.APIKeys, httpMetrics, log)

	return serveHTTP(ctx, cfg.Cloud.Listen, server.Router(), "cloud", log)
}
