package keeperd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kusdcore/observability/logging"
	otelobs "kusdcore/observability/otel"
)

// Main runs the keeper until a termination signal arrives. With -export it
// writes sweep-history reports and exits instead.
func Main() error {
	var cfgPath string
	var exportMode bool
	flag.StringVar(&cfgPath, "config", "services/keeperd/config.yaml", "path to keeperd configuration")
	flag.BoolVar(&exportMode, "export", false, "write sweep history reports and exit")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KUSD_ENV"))
	logger := logging.Setup("keeperd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if otlpEndpoint != "" {
		insecure := false
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdown, err := otelobs.Init(context.Background(), otelobs.Config{
			ServiceName: "keeperd",
			Environment: env,
			Endpoint:    otlpEndpoint,
			Insecure:    insecure,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	history, err := OpenHistory(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	if exportMode {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		csvPath, parquetPath, err := ExportReports(ctx, history, cfg.Export.OutputDir, cfg.Export.Limit, time.Now())
		if err != nil {
			return fmt.Errorf("export reports: %w", err)
		}
		logger.Info("sweep reports written", "csv", csvPath, "parquet", parquetPath)
		return nil
	}

	client := NewNodeClient(cfg.Node.Endpoint, cfg.Node.Token, cfg.Node.RequestTimeout.Duration)
	keeper := NewKeeper(client, cfg.Caller, cfg.MaxPerSweep, cfg.PollInterval.Duration,
		WithLogger(logger), WithHistory(history))

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("keeperd listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()
	go keeper.Run(ctx)

	logger.Info("keeperd sweeping",
		"node", cfg.Node.Endpoint,
		"interval", cfg.PollInterval.Duration.String(),
		"maxPerSweep", cfg.MaxPerSweep,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
