package domain

import "time"

// RecoveryRecord is a durable snapshot of enrichment results whose
// persistence failed after exhausting retries. It is stored on the document
// row and, redundantly, as a standalone artifact independent of the primary
// store. Consumed and deleted on successful recovery.
type RecoveryRecord struct {
	DocumentID    string            `json:"document_id"`
	Results       EnrichmentResults `json:"results"`
	CapturedError string            `json:"captured_error"`
	CapturedAt    time.Time         `json:"captured_at"`
}
