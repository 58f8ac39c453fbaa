package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/imgclass/internal/handlers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions over HTTP",
	Long: `Endpoints:
  GET  /health         - Health check
  POST /predict        - Prediction from a bottleneck vector
  POST /predict/image  - Prediction from an image upload

Upload test: curl -X POST -F "image=@photo.jpg" http://localhost:8080/predict/image`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config and PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	engine, closeFn, err := loadEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	h := handlers.NewHandler(engine, logger)
	srv := &http.Server{Addr: addr, Handler: h.Router(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("head", cfg.HeadPath()),
			zap.Strings("classes", engine.Labels()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
