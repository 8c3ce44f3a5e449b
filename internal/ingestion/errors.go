package ingestion

import (
	"errors"
	"fmt"
)

// Kind classifies a failed upload.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindOwnerNotFound Kind = "owner_not_found"
	KindConflict      Kind = "conflict"
	KindExtraction    Kind = "extraction"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindRender        Kind = "render"
	KindMerge         Kind = "merge"
	KindStorage       Kind = "storage"
	KindInternal      Kind = "internal"
)

// Stable machine-readable codes.
const (
	CodeDocumentRequired     = "document_required"
	CodeDocumentTooLarge     = "document_too_large"
	CodeUnsupportedMediaType = "unsupported_media_type"
	CodeOwnerRequired        = "owner_required"
	CodeOwnerNotFound        = "owner_not_found"
	CodeDailyUploadLimit     = "daily_upload_limit"
	CodeTotalUploadLimit     = "total_upload_limit"
	CodeIdentifierNotFound   = "identifier_not_found"
	CodeExtractionFailed     = "extraction_failed"
	CodeInvoiceConflict      = "invoice_conflict"
	CodeRenderFailed         = "render_failed"
	CodeMergeFailed          = "merge_failed"
	CodeStorageFailed        = "storage_failed"
	CodeInternal             = "internal_error"
)

// Error is the only error type Upload returns. Message is safe to show to callers;
// Err carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
