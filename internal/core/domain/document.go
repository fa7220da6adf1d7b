package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusReady      DocumentStatus = "ready"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is one ingested file through its whole lifecycle. Enrichment
// outputs are optional and present only once produced; error and write-failure
// fields survive status resets so partial work is never silently discarded.
type Document struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Folder      string `json:"folder,omitempty"`
	MimeType    string `json:"mime_type"`
	StoragePath string `json:"storage_path"`
	Fingerprint string `json:"fingerprint"`
	SizeBytes   int64  `json:"size_bytes"`

	Status DocumentStatus `json:"status"`

	Summary   string            `json:"summary,omitempty"`
	Markdown  string            `json:"markdown,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Category  string            `json:"category,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`

	ErrorMessage       string       `json:"error_message,omitempty"`
	ErrorClass         FailureClass `json:"error_class,omitempty"`
	AIProcessingFailed bool         `json:"ai_processing_failed,omitempty"`
	RetryCount         int          `json:"retry_count,omitempty"`
	NextRetryAt        *time.Time   `json:"next_retry_at,omitempty"`

	DBWriteFailed  bool `json:"db_write_failed,omitempty"`
	AISucceeded    bool `json:"ai_processing_succeeded,omitempty"`
	ResultsPending bool `json:"ai_results_pending,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnrichmentResults is the full computed payload of one processing pass.
// Empty string / nil slice means the sub-step did not produce output.
type EnrichmentResults struct {
	Summary   string            `json:"summary,omitempty"`
	Markdown  string            `json:"markdown,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Category  string            `json:"category,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// Merge keeps already-present outputs and fills gaps from other, so a retry
// does not discard sub-steps that succeeded on a previous pass.
func (r EnrichmentResults) Merge(other EnrichmentResults) EnrichmentResults {
	out := r
	if out.Summary == "" {
		out.Summary = other.Summary
	}
	if out.Markdown == "" {
		out.Markdown = other.Markdown
	}
	if len(out.Tags) == 0 {
		out.Tags = other.Tags
	}
	if out.Category == "" {
		out.Category = other.Category
	}
	if len(out.Fields) == 0 {
		out.Fields = other.Fields
	}
	if len(out.Embedding) == 0 {
		out.Embedding = other.Embedding
	}
	return out
}
