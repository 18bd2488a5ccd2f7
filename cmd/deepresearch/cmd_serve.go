package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"deepresearch/internal/knowledge"
	"deepresearch/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Starts the HTTP API with server-sent progress events and Prometheus
metrics on /metrics. When the knowledge base watches its directory, changed
files are re-ingested while the server runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.ingester != nil && cfg.Knowledge.Watch {
		w, err := knowledge.NewWatcher(a.ingester)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		logger.Info("watching knowledge base", zap.String("dir", a.ingester.Root()))
	}

	scfg := cfg.Server
	if serveAddr != "" {
		scfg.Address = serveAddr
	}
	srv := server.New(scfg, a.engine, a.bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()
	logger.Info("server started", zap.String("addr", scfg.Address))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
