package usecase

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// repoFake is an in-memory DocumentRepository shared by the pipeline tests.
// Error injection is per call site; saveResultsFailures fails that many
// SaveResults calls before letting one through.
type repoFake struct {
	mu         sync.Mutex
	docs       map[string]*domain.Document
	recoveries map[string]*domain.RecoveryRecord

	statusHistory []domain.DocumentStatus

	createErr           error
	findErr             error
	saveResultsFailures int
	saveResultsCalls    int
	saveResultsErr      error
	saveRecoveryErr     error
	resetCalls          int
}

func newRepoFake() *repoFake {
	return &repoFake{
		docs:       make(map[string]*domain.Document),
		recoveries: make(map[string]*domain.RecoveryRecord),
	}
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) FindByFingerprint(_ context.Context, fingerprint string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, doc := range f.docs {
		if doc.Fingerprint == fingerprint && doc.Status != domain.StatusFailed {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, domain.ErrDocumentNotFound
}

func (f *repoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, failure *domain.Failure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = status
	f.statusHistory = append(f.statusHistory, status)
	if failure != nil {
		doc.ErrorClass = failure.Class
		doc.ErrorMessage = failure.Message
		doc.AIProcessingFailed = true
	} else {
		doc.ErrorClass = domain.FailureNone
		doc.ErrorMessage = ""
		doc.AIProcessingFailed = false
	}
	return nil
}

func (f *repoFake) SavePartialOutputs(_ context.Context, id string, res domain.EnrichmentResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	applyResults(doc, res)
	return nil
}

func (f *repoFake) SaveResults(_ context.Context, id string, res domain.EnrichmentResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveResultsCalls++
	if f.saveResultsCalls <= f.saveResultsFailures {
		return f.saveResultsErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	applyResults(doc, res)
	doc.Status = domain.StatusCompleted
	f.statusHistory = append(f.statusHistory, domain.StatusCompleted)
	return nil
}

func (f *repoFake) RecordFailedAttempt(_ context.Context, id string, failure domain.Failure, retryCount int, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = domain.StatusFailed
	doc.ErrorClass = failure.Class
	doc.ErrorMessage = failure.Message
	doc.AIProcessingFailed = true
	doc.RetryCount = retryCount
	doc.NextRetryAt = &nextRetryAt
	f.statusHistory = append(f.statusHistory, domain.StatusFailed)
	return nil
}

func (f *repoFake) ResetForRetry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = domain.StatusReady
	doc.ErrorClass = domain.FailureNone
	doc.ErrorMessage = ""
	doc.AIProcessingFailed = false
	doc.NextRetryAt = nil
	return nil
}

func (f *repoFake) SaveRecovery(_ context.Context, id string, rec domain.RecoveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveRecoveryErr != nil {
		return f.saveRecoveryErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	copyRec := rec
	f.recoveries[id] = &copyRec
	doc.Status = domain.StatusFailed
	doc.DBWriteFailed = true
	doc.AISucceeded = true
	doc.ResultsPending = true
	f.statusHistory = append(f.statusHistory, domain.StatusFailed)
	return nil
}

func (f *repoFake) LoadRecovery(_ context.Context, id string) (*domain.RecoveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recoveries[id]
	if !ok {
		return nil, nil
	}
	copyRec := *rec
	return &copyRec, nil
}

func (f *repoFake) ClearRecovery(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recoveries, id)
	if doc, ok := f.docs[id]; ok {
		doc.DBWriteFailed = false
		doc.ResultsPending = false
	}
	return nil
}

func (f *repoFake) ListRetryEligible(_ context.Context, before time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, doc := range f.docs {
		if doc.Status != domain.StatusFailed || !doc.ErrorClass.Retryable() {
			continue
		}
		if doc.NextRetryAt != nil && doc.NextRetryAt.After(before) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func applyResults(doc *domain.Document, res domain.EnrichmentResults) {
	if res.Summary != "" {
		doc.Summary = res.Summary
	}
	if res.Markdown != "" {
		doc.Markdown = res.Markdown
	}
	if len(res.Tags) > 0 {
		doc.Tags = res.Tags
	}
	if res.Category != "" {
		doc.Category = res.Category
	}
	if len(res.Fields) > 0 {
		doc.Fields = res.Fields
	}
	if len(res.Embedding) > 0 {
		doc.Embedding = res.Embedding
	}
}

func (f *repoFake) doc(id string) *domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil
	}
	copyDoc := *doc
	return &copyDoc
}

func (f *repoFake) seed(doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := doc
	f.docs[doc.ID] = &copyDoc
}

// storageFake keeps objects in memory; failSaves fails that many Save calls.
type storageFake struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failSaves int
	saveCalls int
	saveErr   error
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string][]byte)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveCalls <= f.failSaves {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *storageFake) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[key]
	return raw, ok
}

func (f *storageFake) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *queueFake) PublishDocumentIngested(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return nil
}

func (f *queueFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// admissionFake is a plain in-memory admission map.
type admissionFake struct {
	mu      sync.Mutex
	holders map[string]string
}

func newAdmissionFake() *admissionFake {
	return &admissionFake{holders: make(map[string]string)}
}

func (f *admissionFake) Admit(_ context.Context, fingerprint, ownerID string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder, held := f.holders[fingerprint]; held {
		return false, holder, nil
	}
	f.holders[fingerprint] = ownerID
	return true, ownerID, nil
}

func (f *admissionFake) Release(_ context.Context, fingerprint, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders[fingerprint] == ownerID {
		delete(f.holders, fingerprint)
	}
	return nil
}

func (f *admissionFake) Holder(_ context.Context, fingerprint string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	holder, held := f.holders[fingerprint]
	return holder, held, nil
}

type extractorFake struct {
	text string
	err  error
}

func (f *extractorFake) Extract(context.Context, *domain.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// enricherFake returns canned outputs with per-method error injection and
// call counting.
type enricherFake struct {
	mu    sync.Mutex
	calls map[string]int

	summary   string
	markdown  string
	tags      []string
	category  string
	fields    map[string]string
	embedding []float32

	summarizeErr error
	markdownErr  error
	tagsErr      error
	classifyErr  error
	fieldsErr    error
	embedErr     error
}

func newEnricherFake() *enricherFake {
	return &enricherFake{
		calls:     make(map[string]int),
		summary:   "a short summary",
		markdown:  "# doc\nbody",
		tags:      []string{"ai-tag"},
		category:  "report",
		fields:    map[string]string{"date": "2026-01-01"},
		embedding: []float32{0.1, 0.2},
	}
}

func (f *enricherFake) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *enricherFake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *enricherFake) Summarize(context.Context, string) (string, error) {
	f.record("summarize")
	return f.summary, f.summarizeErr
}

func (f *enricherFake) RenderMarkdown(context.Context, string) (string, error) {
	f.record("markdown")
	return f.markdown, f.markdownErr
}

func (f *enricherFake) SuggestTags(context.Context, string) ([]string, error) {
	f.record("tags")
	return f.tags, f.tagsErr
}

func (f *enricherFake) Classify(context.Context, string) (string, error) {
	f.record("classify")
	return f.category, f.classifyErr
}

func (f *enricherFake) ExtractFields(context.Context, string) (map[string]string, error) {
	f.record("fields")
	return f.fields, f.fieldsErr
}

func (f *enricherFake) Embed(context.Context, string) ([]float32, error) {
	f.record("embed")
	return f.embedding, f.embedErr
}

type taggerFake struct{ tags []string }

func (f *taggerFake) Tags(string) []string {
	if len(f.tags) == 0 {
		return []string{"document"}
	}
	return f.tags
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
