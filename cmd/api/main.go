package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/mpetrenko/document-vault/internal/adapters/http"
	"github.com/mpetrenko/document-vault/internal/bootstrap"
	"github.com/mpetrenko/document-vault/internal/config"
	"github.com/mpetrenko/document-vault/internal/observability/logging"
	"github.com/mpetrenko/document-vault/internal/observability/metrics"
)

const serviceName = "vault-api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		OnRetry: func(operation string) { serverMetrics.RecordRetry(serviceName, operation) },
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	guard := httpadapter.NewIdempotencyGuard(app.Idempotency, cfg.IdempotencyTTL, logger, func() {
		serverMetrics.RecordIdempotencyHit(serviceName)
	})
	router := httpadapter.NewRouter(cfg, app.UploadUC, app.ProcessUC, app.RecoverUC, app.ReadUC, guard, serverMetrics)

	server := &http.Server{
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}
	if cfg.APIMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConns)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_conns", cfg.APIMaxConns)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err.Error())
	}
}
