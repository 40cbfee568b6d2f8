package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/petrijr/extask/internal/config"
	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/metrics"
	"github.com/petrijr/extask/pkg/rest"
	"github.com/petrijr/extask/pkg/variables"
	"github.com/petrijr/extask/pkg/worker"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Fetch and handle external tasks",
		Long: `Subscribe to the topics listed under worker.topics and handle their
tasks until interrupted. The built-in handler logs each task's variables and
completes it.

Example:
  extask worker --config ./extask.yaml
  EXTASK_WORKER_BASE_URL=http://camunda:8080/engine-rest extask worker`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, rootOpts.Config, rootOpts.Logger, prometheus.DefaultRegisterer, promhttp.Handler())
		},
	}
}

// buildWorker creates a worker for cfg.Worker with one subscription per
// configured topic.
func buildWorker(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*worker.Worker, error) {
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	wc := cfg.Worker

	header := http.Header{}
	if wc.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(wc.Username + ":" + wc.Password))
		header.Set("Authorization", "Basic "+creds)
	}
	client, err := rest.NewClient(rest.ClientConfig{
		BaseURL: wc.BaseURL,
		Header:  header,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	engine := variables.NewDefaultEngine()
	if _, err := engine.Format(wc.DefaultFormat); err != nil {
		return nil, fmt.Errorf("worker.default_format: %w", err)
	}

	reportRetries := wc.ReportRetries
	if reportRetries == 0 {
		reportRetries = -1
	}
	w := worker.NewWithConfig(client, worker.Config{
		WorkerID:             wc.WorkerID,
		MaxTasks:             wc.MaxTasks,
		UsePriority:          wc.UsePriority,
		AsyncResponseTimeout: wc.AsyncResponseTimeout,
		LockDuration:         wc.LockDuration,
		ReportRetries:        reportRetries,
		DefaultFormat:        wc.DefaultFormat,
		ShutdownTimeout:      wc.ShutdownTimeout,
		AbandonOnShutdown:    wc.AbandonOnShutdown,
		Engine:               engine,
		Logger:               logger,
		Observer: api.NewCompositeObserver(
			api.NewLoggingObserver(logger),
			metrics.NewObserver(reg),
		),
	})

	for _, tc := range wc.Topics {
		b := w.Subscribe(tc.Name).
			MaxTasks(tc.MaxTasks).
			OutputFormat(tc.OutputFormat).
			Handler(logVariables)
		if tc.LockDuration > 0 {
			b = b.LockDuration(tc.LockDuration)
		}
		if tc.Variables != nil {
			b = b.Variables(tc.Variables...)
		}
		if _, err := b.Open(); err != nil {
			return nil, fmt.Errorf("topic %q: %w", tc.Name, err)
		}
	}
	return w, nil
}

// logVariables logs every variable of the task and completes it.
func logVariables(ctx context.Context, task *api.ExternalTask) (map[string]any, error) {
	logger := worker.LoggerFromContext(ctx)
	for _, name := range task.Variables.Names() {
		tv, err := task.VariableTyped(name, false)
		if err != nil {
			return nil, err
		}
		if ov, ok := tv.(*variables.ObjectValue); ok {
			logger.InfoContext(ctx, "variable",
				slog.String("name", name),
				slog.String("type", ov.ObjectTypeName()),
				slog.String("format", ov.SerializationDataFormat()),
				slog.String("serialized", ov.ValueSerialized()),
			)
			continue
		}
		v, err := tv.Value()
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "variable",
			slog.String("name", name),
			slog.String("type", string(tv.Type())),
			slog.Any("value", v),
		)
	}
	return nil, nil
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, metricsHandler http.Handler) error {
	w, err := buildWorker(cfg, logger, reg)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if addr := cfg.Worker.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metricsHandler)
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("serving metrics", slog.String("addr", addr))
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker started",
		slog.String("worker_id", w.ID()),
		slog.Any("topics", w.Topics()),
	)

	<-ctx.Done()
	logger.Info("shutting down worker")

	shutdownCtx := context.WithoutCancel(ctx)
	err = w.Close(shutdownCtx)
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(sctx)
	}
	return err
}
