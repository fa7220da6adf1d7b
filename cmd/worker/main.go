package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mpetrenko/document-vault/internal/bootstrap"
	"github.com/mpetrenko/document-vault/internal/config"
	"github.com/mpetrenko/document-vault/internal/observability/logging"
	"github.com/mpetrenko/document-vault/internal/observability/metrics"
)

const serviceName = "vault-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		OnRetry: func(operation string) { workerMetrics.RecordRetry(serviceName, operation) },
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.RetrySweepSpec, func() { sweepRetries(ctx, app, workerMetrics) }); err != nil {
		log.Fatalf("retry sweep schedule error: %v", err)
	}
	if _, err := sweeper.AddFunc(cfg.RetrySweepSpec, func() { evictIdempotency(ctx, app) }); err != nil {
		log.Fatalf("eviction schedule error: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeDocumentIngested(ctx, func(handlerCtx context.Context, documentID string) error {
		if doc, err := app.Repo.GetByID(handlerCtx, documentID); err == nil {
			workerMetrics.ObserveQueueLag(serviceName, time.Since(doc.UpdatedAt))
		}

		workerMetrics.StartDocument()
		start := time.Now()

		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.ProcessTimeout)
		defer cancel()
		err := app.ProcessUC.ProcessByID(processCtx, documentID)

		workerMetrics.FinishDocument(serviceName, time.Since(start), err)
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}

// sweepRetries re-enqueues failed documents whose cool-down expired. The
// processor re-checks eligibility on delivery, so a racing sweep is harmless.
func sweepRetries(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics) {
	ids, err := app.Repo.ListRetryEligible(ctx, time.Now().UTC(), app.Config.RetrySweepBatch)
	if err != nil {
		app.Log.Error("retry_sweep_failed", "error", err.Error())
		return
	}
	enqueued := 0
	for _, id := range ids {
		if err := app.Queue.PublishDocumentIngested(ctx, id); err != nil {
			app.Log.Error("retry_enqueue_failed", "document_id", id, "error", err.Error())
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		m.RecordRetryEnqueued(serviceName, enqueued)
		app.Log.Info("retry_sweep_done", "eligible", len(ids), "enqueued", enqueued)
	}
}

func evictIdempotency(ctx context.Context, app *bootstrap.App) {
	evicted, err := app.Idempotency.Evict(ctx, time.Now().UTC())
	if err != nil {
		app.Log.Error("idempotency_eviction_failed", "error", err.Error())
		return
	}
	if evicted > 0 {
		app.Log.Info("idempotency_evicted", "count", evicted)
	}
}

func startMetricsServer(port string, m *metrics.WorkerMetrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()
	return server
}
