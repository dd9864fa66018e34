package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigillo-iot/sigillo/internal/artifact"
	"github.com/sigillo-iot/sigillo/internal/cloudclient"
	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/ingest"
	"github.com/sigillo-iot/sigillo/internal/objectstore"
	"github.com/sigillo-iot/sigillo/internal/observability"
	"github.com/sigillo-iot/sigillo/internal/processor"
	"github.com/sigillo-iot/sigillo/internal/scheduler"
	"github.com/sigillo-iot/sigillo/internal/store"
)

// httpShutdownTimeout bounds the graceful drain of an HTTP listener.
const httpShutdownTimeout = 10 * time.Second

// NewEdgeCommand creates the edge subcommand: the fog producer with its
// ingress and the three pipeline workers.
func NewEdgeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Run the fog producer: HTTP ingress plus pipeline workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runEdge(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runEdge(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := observability.NewLogger(cfg.Level(), true, "edge")

	st, err := store.Open(ctx, cfg.Edge.DatabasePath, cfg.Edge.BatchThreshold)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	telemetry, err := setupTelemetry(ctx, cfg, log, st.Ping)
	if err != nil {
		return err
	}
	defer telemetry.close(ctx, log)

	pipeMetrics, err := observability.NewPipelineMetrics(telemetry.meter("sigillo/edge"))
	if err != nil {
		return fmt.Errorf("create pipeline metrics: %w", err)
	}

	httpMetrics, err := observability.NewHTTPMetrics(telemetry.meter("sigillo/edge/http"))
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}

	proc, err := buildProcessor(ctx, cfg, st, pipeMetrics, log)
	if err != nil {
		return err
	}

	cloud := cloudclient.New(cfg.Edge.Cloud.BaseURL, cfg.Edge.Cloud.APIKey, cfg.Edge.Cloud.Timeout, log)

	sched := scheduler.New(log, scheduler.Workers(cfg.Edge.Workers, scheduler.Deps{
		Store:     st,
		Cloud:     cloud,
		Processor: proc,
		Metrics:   pipeMetrics,
		Log:       log,
	})...)

	ingress, err := ingest.New(st, cfg.Edge.IngestRateLimit, pipeMetrics, httpMetrics, log)
	if err != nil {
		return err
	}

	sched.Start(ctx)

	err = serveHTTP(ctx, cfg.Edge.Listen, ingress.Router(), "ingress", log)

	// Stop the workers before the store closes; in-flight remote calls
	// finish or time out first.
	sched.Stop()

	return err
}

// buildProcessor wires the object-store uploader, the optional artifact
// cache, and the anchor stub into the batch processor.
func buildProcessor(ctx context.Context, cfg *config.Config, st *store.Store, metrics *observability.PipelineMetrics, log *slog.Logger) (*processor.Processor, error) {
	s3Client, err := objectstore.NewClient(ctx, cfg.Edge.ObjectStore)
	if err != nil {
		return nil, err
	}

	uploader := objectstore.NewUploader(s3Client, cfg.Edge.ObjectStore.Bucket, cfg.Edge.ObjectStore.Compress, log)

	err = uploader.EnsureBucket(ctx)
	if err != nil {
		// The bucket may exist already or the store may be down; either way
		// the pipeline surfaces upload failures per batch.
		log.WarnContext(ctx, "bucket check failed", "error", err)
	}

	var cache *artifact.Cache

	if cfg.Edge.Artifacts.Dir != "" {
		cache, err = artifact.NewCache(cfg.Edge.Artifacts.Dir, cfg.Edge.Artifacts.Compress)
		if err != nil {
			return nil, err
		}
	}

	return processor.New(st, uploader, processor.NewStubAnchorer(log), cache, metrics, log), nil
}

// serveHTTP runs handler at addr until ctx is cancelled, then drains.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, name string, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)

	go func() {
		log.InfoContext(ctx, "http server listening", "server", name, "addr", addr)

		serveErr := srv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s server: %w", name, err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown %s server: %w", name, err)
	}

	log.Info("http server stopped", "server", name)

	return nil
}
