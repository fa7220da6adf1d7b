package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpetrenko/document-vault/internal/config"
	"github.com/mpetrenko/document-vault/internal/core/ports"
	"github.com/mpetrenko/document-vault/internal/core/usecase"
	"github.com/mpetrenko/document-vault/internal/infrastructure/admission"
	"github.com/mpetrenko/document-vault/internal/infrastructure/cache"
	"github.com/mpetrenko/document-vault/internal/infrastructure/chunking"
	"github.com/mpetrenko/document-vault/internal/infrastructure/extractor"
	"github.com/mpetrenko/document-vault/internal/infrastructure/extractor/pdf"
	"github.com/mpetrenko/document-vault/internal/infrastructure/extractor/plaintext"
	"github.com/mpetrenko/document-vault/internal/infrastructure/extractor/xlsx"
	"github.com/mpetrenko/document-vault/internal/infrastructure/llm/ollama"
	"github.com/mpetrenko/document-vault/internal/infrastructure/queue/nats"
	"github.com/mpetrenko/document-vault/internal/infrastructure/repository/postgres"
	"github.com/mpetrenko/document-vault/internal/infrastructure/resilience"
	"github.com/mpetrenko/document-vault/internal/infrastructure/storage/localfs"
	"github.com/mpetrenko/document-vault/internal/infrastructure/storage/resilient"
	"github.com/mpetrenko/document-vault/internal/infrastructure/tagging"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Queue       *nats.Queue
	Repo        ports.DocumentRepository
	Storage     ports.ObjectStorage
	Idempotency ports.IdempotencyStore

	UploadUC  ports.DocumentUploader
	ProcessUC ports.DocumentProcessor
	RecoverUC ports.DocumentRecoverer
	ReadUC    ports.DocumentReader

	closeFn func()
}

// OnRetry lets the binary feed retry attempts into its own metrics; nil is
// fine and keeps retries log-only.
type Options struct {
	OnRetry func(operation string)
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document schema: %w", err)
	}

	idemStore, err := newIdempotencyStore(ctx, cfg, db)
	if err != nil {
		return nil, fmt.Errorf("init idempotency store: %w", err)
	}

	onRetry := retryHook(log, opts.OnRetry)

	local, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	chunkCfg := resilience.ChunkPolicy(cfg.ChunkRetryAttempts, cfg.ChunkRetryBackoff)
	chunkCfg.OnRetry = onRetry
	storage := resilient.New(local, resilience.NewExecutor(chunkCfg), cfg.ChunkStoreTimeout)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	providerCfg := resilience.DefaultConfig()
	providerCfg.OnRetry = onRetry
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.ClientOptions{
		Timeout: cfg.ProviderTimeout,
		RPS:     cfg.ProviderRPS,
		Burst:   cfg.ProviderBurst,
	})
	enricher := ollama.NewEnricher(ollamaClient, resilience.NewExecutor(providerCfg))

	registry := extractor.NewRegistry(plaintext.NewExtractor(storage))
	registry.Register("pdf", pdf.NewExtractor(storage))
	registry.Register("xlsx", xlsx.NewExtractor(storage))

	tagger, err := newTagger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init fallback tagger: %w", err)
	}

	persistCfg := resilience.PersistencePolicy(cfg.PersistRetryAttempts, cfg.PersistRetryBackoff, cfg.PersistRetryMax)
	persistCfg.OnRetry = onRetry
	persistExecutor := resilience.NewExecutor(persistCfg)

	uploadUC := usecase.NewUploadUseCase(
		repo, storage, queue, admission.NewMemoryStore(),
		chunking.NewSplitter(cfg.UploadChunkSize),
		usecase.NewProgressTracker(), log,
		cfg.UploadMaxConcurrent, cfg.UploadChunkThreshold,
	)
	persister := usecase.NewResultsPersister(repo, storage, persistExecutor, log)
	processUC := usecase.NewProcessUseCase(repo, registry, enricher, tagger, queue, persister, cfg.RetryCooldown, log)
	recoverUC := usecase.NewRecoverUseCase(repo, storage, persistExecutor, log)
	readUC := usecase.NewReadUseCase(repo)

	return &App{
		Config: cfg,
		Log:    log,

		Queue:       queue,
		Repo:        repo,
		Storage:     storage,
		Idempotency: idemStore,

		UploadUC:  uploadUC,
		ProcessUC: processUC,
		RecoverUC: recoverUC,
		ReadUC:    readUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, db *sql.DB) (ports.IdempotencyStore, error) {
	switch cfg.IdempotencyBackend {
	case "postgres":
		store := cache.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return cache.NewMemoryStore(cfg.IdempotencyMaxEntries), nil
	}
}

func newTagger(cfg config.Config) (*tagging.RuleTagger, error) {
	if cfg.TagRulesPath == "" {
		return tagging.NewRuleTagger(nil), nil
	}
	rules, err := tagging.LoadRules(cfg.TagRulesPath)
	if err != nil {
		return nil, err
	}
	return tagging.NewRuleTagger(rules), nil
}

func retryHook(log *slog.Logger, fn func(operation string)) func(string, int, time.Duration, error) {
	return func(operation string, attempt int, wait time.Duration, err error) {
		log.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err.Error(),
		)
		if fn != nil {
			fn(operation)
		}
	}
}
