package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dqx0.com/go/website/internal/config"
	"dqx0.com/go/website/internal/obs"
	"dqx0.com/go/website/internal/responder"
	"dqx0.com/go/website/website"
)

var serveFlags struct {
	host     string
	port     int
	mode     string
	logLevel string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server with the specified configuration.

Examples:
  # Start with defaults
  website serve

  # Listen on all interfaces, echo requests back
  website serve --host 0.0.0.0 --port 8080 --responder echo`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "override listen host")
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "override listen port")
	serveCmd.Flags().StringVar(&serveFlags.mode, "responder", "", "override responder mode (static, echo)")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serveFlags.port
	}
	if serveFlags.mode != "" {
		cfg.Responder.Mode = serveFlags.mode
	}
	if serveFlags.logLevel != "" {
		cfg.Logging.Level = serveFlags.logLevel
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	meter := obs.NewPrometheusMeter(reg, cfg.Metrics.Namespace)

	r, err := responder.New(cfg.Responder.Mode, cfg.Responder.Status, cfg.Responder.ContentType, cfg.Responder.Body)
	if err != nil {
		return err
	}
	site, err := website.New(r,
		website.WithConfig(cfg.Server),
		website.WithLogger(logger),
		website.WithMeter(meter),
	)
	if err != nil {
		return err
	}
	defer site.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ms *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		ms = &http.Server{
			Addr:              cfg.Metrics.Address(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("metrics server listening", zap.String("address", ms.Addr), zap.String("path", cfg.Metrics.Path))
	}

	err = serveAll(ctx, logger, site, ms, cfg.ShutdownTimeout)
	if errors.Is(err, website.ErrBind) {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	logger.Info("server exited")
	return err
}

// runner is the part of a Website serveAll drives.
type runner interface {
	Run() error
	Shutdown(ctx context.Context) error
}

// serveAll runs site and the optional metrics server until ctx is done or
// site stops on its own, then shuts both down within timeout.
func serveAll(ctx context.Context, logger *zap.Logger, site runner, ms *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return site.Run()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", timeout))
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := site.Shutdown(sctx); err != nil {
			logger.Warn("connections closed before finishing", zap.Error(err))
		}
		return nil
	})

	if ms != nil {
		g.Go(func() error {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}
	return g.Wait()
}
