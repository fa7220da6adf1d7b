package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the content identity of a file: hex-encoded SHA-256 of the
// full byte content. Filename and folder do not participate.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileInput is one file handed to the upload coordinator. Bytes are fully
// buffered so the fingerprint covers the complete content before admission.
type FileInput struct {
	Filename string
	Folder   string
	Data     []byte
}

// SkipReason explains why a batch member was not ingested.
type SkipReason string

const (
	SkipDuplicate         SkipReason = "duplicate"
	SkipDuplicateInFlight SkipReason = "duplicate_in_flight"
	SkipEmptyFile         SkipReason = "empty_file"
)

type SkippedFile struct {
	Filename   string     `json:"filename"`
	Reason     SkipReason `json:"reason"`
	DocumentID string     `json:"document_id,omitempty"`
}

// BatchResult reports the outcome of a multi-file upload: created documents
// for the admitted subset plus per-file skips with reasons.
type BatchResult struct {
	Created []*Document   `json:"created"`
	Skipped []SkippedFile `json:"skipped,omitempty"`
}

func (r *BatchResult) AllSkipped() bool {
	return len(r.Created) == 0 && len(r.Skipped) > 0
}

// ChunkUpload is one chunk of a large file. Fingerprint and filename bind the
// chunk to its logical upload so a receiver can validate membership.
type ChunkUpload struct {
	Index       int
	Total       int
	Filename    string
	Fingerprint string
	Folder      string
	Data        []byte
}

// ChunkReceipt acknowledges a stored chunk. Progress is monotone per file.
// Document is set only once the final chunk completed assembly and admission.
type ChunkReceipt struct {
	Received int          `json:"received"`
	Total    int          `json:"total"`
	Progress float64      `json:"progress"`
	Complete bool         `json:"complete"`
	Document *Document    `json:"document,omitempty"`
	Skipped  *SkippedFile `json:"skipped,omitempty"`
}

// DuplicateCheck answers a fingerprint probe before any bytes are sent.
type DuplicateCheck struct {
	IsDuplicate bool   `json:"is_duplicate"`
	Filename    string `json:"filename,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
}
