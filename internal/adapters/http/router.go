package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/mpetrenko/document-vault/internal/config"
	"github.com/mpetrenko/document-vault/internal/core/domain"
	"github.com/mpetrenko/document-vault/internal/core/ports"
	"github.com/mpetrenko/document-vault/internal/observability/metrics"
)

const (
	serviceName       = "vault-api"
	maxMultipartBytes = 64 << 20
)

type Router struct {
	cfg       config.Config
	uploader  ports.DocumentUploader
	processor ports.DocumentProcessor
	recoverer ports.DocumentRecoverer
	reader    ports.DocumentReader
	guard     *IdempotencyGuard
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	uploader ports.DocumentUploader,
	processor ports.DocumentProcessor,
	recoverer ports.DocumentRecoverer,
	reader ports.DocumentReader,
	guard *IdempotencyGuard,
	serverMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		uploader:  uploader,
		processor: processor,
		recoverer: recoverer,
		reader:    reader,
		guard:     guard,
		metrics:   serverMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocuments)
	mux.HandleFunc("/v1/documents/chunk", rt.uploadChunk)
	mux.HandleFunc("/v1/documents/check-duplicate", rt.checkDuplicate)
	mux.HandleFunc("/v1/documents/", rt.documentByID)
	mux.Handle("/metrics", rt.metrics.Handler())

	var handler http.Handler = mux
	handler = rt.guard.Middleware(handler)
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMax, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadDocuments is the batch entry: one or more multipart "files" parts
// plus an optional "folder" field. Skips (duplicates, empty files) are
// reported per file rather than failing the batch.
func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse upload",
			errors.New("multipart field 'files' is required")))
		return
	}

	folder := r.FormValue("folder")
	files := make([]domain.FileInput, 0, len(headers))
	for _, header := range headers {
		data, err := readPart(header)
		if err != nil {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "read upload part", err))
			return
		}
		files = append(files, domain.FileInput{
			Filename: header.Filename,
			Folder:   folder,
			Data:     data,
		})
	}

	result, err := rt.uploader.UploadBatch(r.Context(), files, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	for range result.Created {
		rt.metrics.RecordUpload(serviceName, "created")
	}
	for _, skip := range result.Skipped {
		rt.metrics.RecordUpload(serviceName, string(skip.Reason))
	}

	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// uploadChunk accepts one chunk of a large file: multipart fields
// chunk_index, total_chunks, filename, fingerprint, optional folder, and the
// payload in the "chunk" part.
func (rt *Router) uploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse chunk", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse chunk",
			errors.New("chunk_index must be an integer")))
		return
	}
	total, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse chunk",
			errors.New("total_chunks must be an integer")))
		return
	}

	chunkHeaders := r.MultipartForm.File["chunk"]
	if len(chunkHeaders) != 1 {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse chunk",
			errors.New("exactly one 'chunk' part is required")))
		return
	}
	data, err := readPart(chunkHeaders[0])
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "read chunk part", err))
		return
	}

	receipt, err := rt.uploader.PutChunk(r.Context(), domain.ChunkUpload{
		Index:       index,
		Total:       total,
		Filename:    r.FormValue("filename"),
		Fingerprint: r.FormValue("fingerprint"),
		Folder:      r.FormValue("folder"),
		Data:        data,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordChunk(serviceName)
	status := http.StatusOK
	if receipt.Document != nil {
		rt.metrics.RecordUpload(serviceName, "created")
		status = http.StatusCreated
	}
	if receipt.Skipped != nil {
		rt.metrics.RecordUpload(serviceName, string(receipt.Skipped.Reason))
	}
	writeJSON(w, status, receipt)
}

func (rt *Router) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse request", errors.New("invalid json")))
		return
	}

	check, err := rt.uploader.CheckDuplicate(r.Context(), strings.TrimSpace(req.Fingerprint))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// documentByID serves GET /v1/documents/{id}, POST /v1/documents/{id}/process
// and POST /v1/documents/{id}/recover-db-write.
func (rt *Router) documentByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" || len(parts) > 2 {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "route", errors.New("document id is required")))
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		doc, err := rt.reader.GetByID(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	switch parts[1] {
	case "process":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		status, err := rt.processor.Trigger(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"message": triggerMessage(status),
			"status":  string(status),
		})
	case "recover-db-write":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		status, err := rt.recoverer.Recover(r.Context(), id)
		if err != nil {
			rt.metrics.RecordRecovery(serviceName, "failure")
			writeError(w, err)
			return
		}
		rt.metrics.RecordRecovery(serviceName, "success")
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "recovery completed",
			"status":  string(status),
			"id":      id,
		})
	default:
		writeError(w, domain.WrapError(domain.ErrDocumentNotFound, "route",
			errors.New("unknown document action: "+parts[1])))
	}
}

func triggerMessage(status domain.DocumentStatus) string {
	switch status {
	case domain.StatusProcessing:
		return "document is already processing"
	case domain.StatusCompleted:
		return "document is already completed"
	default:
		return "processing queued"
	}
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	part, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer part.Close()
	return io.ReadAll(part)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
