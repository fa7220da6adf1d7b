package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	folder TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	markdown TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	category TEXT NOT NULL DEFAULT '',
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	error_class TEXT NOT NULL DEFAULT '',
	ai_processing_failed BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	db_write_failed BOOLEAN NOT NULL DEFAULT FALSE,
	ai_processing_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
	ai_results_pending BOOLEAN NOT NULL DEFAULT FALSE,
	ai_results_recovery JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON documents(fingerprint);
CREATE INDEX IF NOT EXISTS idx_documents_next_retry_at ON documents(next_retry_at) WHERE next_retry_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, folder, mime_type, storage_path, fingerprint, size_bytes, status,
	summary, markdown, tags, category, fields, embedding,
	error_message, error_class, ai_processing_failed, retry_count, next_retry_at,
	db_write_failed, ai_processing_succeeded, ai_results_pending,
	created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	tagsJSON, fieldsJSON, embeddingJSON, err := marshalOutputs(doc.Tags, doc.Fields, doc.Embedding)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, folder, mime_type, storage_path, fingerprint, size_bytes, status,
	summary, markdown, tags, category, fields, embedding,
	error_message, error_class, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
		doc.ID, doc.Filename, doc.Folder, doc.MimeType, doc.StoragePath, doc.Fingerprint,
		doc.SizeBytes, string(doc.Status), doc.Summary, doc.Markdown, tagsJSON, doc.Category,
		fieldsJSON, embeddingJSON, doc.ErrorMessage, string(doc.ErrorClass), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)
	return scanDocument(row)
}

// FindByFingerprint returns the newest non-failed document carrying the
// fingerprint. Failed ingestions do not block a re-upload of the same bytes.
func (r *DocumentRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE fingerprint = $1 AND status != $2
ORDER BY created_at DESC
LIMIT 1
`, fingerprint, string(domain.StatusFailed))
	return scanDocument(row)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, failure *domain.Failure) error {
	var class, message string
	failed := false
	if failure != nil {
		class = string(failure.Class)
		message = failure.Message
		failed = true
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_class = $3, error_message = $4, ai_processing_failed = $5, updated_at = $6
WHERE id = $1
`, id, string(status), class, message, failed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(result, id)
}

// SavePartialOutputs overwrites only the sub-step outputs that are present in
// res; absent outputs keep their stored value.
func (r *DocumentRepository) SavePartialOutputs(ctx context.Context, id string, res domain.EnrichmentResults) error {
	tagsJSON, fieldsJSON, embeddingJSON, err := marshalOutputs(res.Tags, res.Fields, res.Embedding)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET summary = COALESCE(NULLIF($2, ''), summary),
	markdown = COALESCE(NULLIF($3, ''), markdown),
	tags = CASE WHEN $4::jsonb = '[]'::jsonb THEN tags ELSE $4::jsonb END,
	category = COALESCE(NULLIF($5, ''), category),
	fields = CASE WHEN $6::jsonb = '{}'::jsonb THEN fields ELSE $6::jsonb END,
	embedding = CASE WHEN $7::jsonb = '[]'::jsonb THEN embedding ELSE $7::jsonb END,
	updated_at = $8
WHERE id = $1
`, id, res.Summary, res.Markdown, tagsJSON, res.Category, fieldsJSON, embeddingJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save partial outputs: %w", err)
	}
	return requireRow(result, id)
}

// SaveResults writes the full payload and completes the document in one
// statement, so a crash between the two cannot leave a completed document
// without its results.
func (r *DocumentRepository) SaveResults(ctx context.Context, id string, res domain.EnrichmentResults) error {
	tagsJSON, fieldsJSON, embeddingJSON, err := marshalOutputs(res.Tags, res.Fields, res.Embedding)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET summary = $2, markdown = $3, tags = $4, category = $5, fields = $6, embedding = $7,
	status = $8, error_class = '', error_message = '', ai_processing_failed = FALSE,
	next_retry_at = NULL, updated_at = $9
WHERE id = $1
`, id, res.Summary, res.Markdown, tagsJSON, res.Category, fieldsJSON, embeddingJSON,
		string(domain.StatusCompleted), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return requireRow(result, id)
}

func (r *DocumentRepository) RecordFailedAttempt(ctx context.Context, id string, failure domain.Failure, retryCount int, nextRetryAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_class = $3, error_message = $4, ai_processing_failed = TRUE,
	retry_count = $5, next_retry_at = $6, updated_at = $7
WHERE id = $1
`, id, string(domain.StatusFailed), string(failure.Class), failure.Message,
		retryCount, nextRetryAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	return requireRow(result, id)
}

func (r *DocumentRepository) ResetForRetry(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_class = '', error_message = '', ai_processing_failed = FALSE,
	next_retry_at = NULL, updated_at = $3
WHERE id = $1
`, id, string(domain.StatusReady), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	return requireRow(result, id)
}

func (r *DocumentRepository) SaveRecovery(ctx context.Context, id string, rec domain.RecoveryRecord) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recovery record: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ai_results_recovery = $2, status = $3, db_write_failed = TRUE,
	ai_processing_succeeded = TRUE, ai_results_pending = TRUE,
	error_class = $4, error_message = $5, updated_at = $6
WHERE id = $1
`, id, recJSON, string(domain.StatusFailed), string(domain.FailureWrite), rec.CapturedError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save recovery record: %w", err)
	}
	return requireRow(result, id)
}

func (r *DocumentRepository) LoadRecovery(ctx context.Context, id string) (*domain.RecoveryRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT ai_results_recovery FROM documents WHERE id = $1
`, id)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "load recovery", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan recovery record: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var rec domain.RecoveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal recovery record: %w", err)
	}
	return &rec, nil
}

func (r *DocumentRepository) ClearRecovery(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ai_results_recovery = NULL, db_write_failed = FALSE, ai_results_pending = FALSE, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear recovery record: %w", err)
	}
	return requireRow(result, id)
}

func (r *DocumentRepository) ListRetryEligible(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id
FROM documents
WHERE status = $1
  AND error_class IN ($2, $3, $4)
  AND (next_retry_at IS NULL OR next_retry_at <= $5)
ORDER BY next_retry_at NULLS FIRST
LIMIT $6
`, string(domain.StatusFailed), string(domain.FailureTransient),
		string(domain.FailureServiceUnavailable), string(domain.FailureCritical), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list retry eligible: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan retry id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry ids: %w", err)
	}
	return ids, nil
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	var status, errorClass string
	var tagsRaw, fieldsRaw, embeddingRaw []byte
	var nextRetryAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.Folder, &doc.MimeType, &doc.StoragePath, &doc.Fingerprint,
		&doc.SizeBytes, &status, &doc.Summary, &doc.Markdown, &tagsRaw, &doc.Category,
		&fieldsRaw, &embeddingRaw, &doc.ErrorMessage, &errorClass, &doc.AIProcessingFailed,
		&doc.RetryCount, &nextRetryAt, &doc.DBWriteFailed, &doc.AISucceeded, &doc.ResultsPending,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "fetch document", errors.New("no rows"))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal(fieldsRaw, &doc.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := json.Unmarshal(embeddingRaw, &doc.Embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	doc.Status = domain.DocumentStatus(status)
	doc.ErrorClass = domain.FailureClass(errorClass)
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		doc.NextRetryAt = &t
	}
	return &doc, nil
}

func marshalOutputs(tags []string, fields map[string]string, embedding []float32) ([]byte, []byte, []byte, error) {
	if tags == nil {
		tags = []string{}
	}
	if fields == nil {
		fields = map[string]string{}
	}
	if embedding == nil {
		embedding = []float32{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal fields: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return tagsJSON, fieldsJSON, embeddingJSON, nil
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("document %s", id))
	}
	return nil
}
