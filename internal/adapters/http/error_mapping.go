package httpadapter

import (
	"net/http"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicate):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrServiceUnavailable),
		domain.IsKind(err, domain.ErrWriteFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps the error kind to a status code and emits the machine
// readable class alongside the message.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{
		"error":       err.Error(),
		"error_class": string(domain.ClassifyFailure(err)),
	})
}
