package attachments

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine readable error codes returned to clients.
const (
	CodeConflict              = "AttachmentConflict"
	CodeNotFound              = "AttachmentNotFound"
	CodeNoContent             = "AttachmentNoContent"
	CodeContentLengthRequired = "ContentLengthRequired"
	CodeInvalidContentLength  = "InvalidContentLength"
	CodeSizeExceeded          = "AttachmentSizeExceeded"
	CodeUnsupportedMediaType  = "UnsupportedMediaType"
	CodeInvalidRequest        = "InvalidRequest"
	CodeScanNotClean          = "UnableToDownloadAttachmentScanStatusNotClean"
	CodeScanPending           = "AttachmentScanPending"
	CodeRescanRejected        = "AttachmentRescanRejected"
)

// Error is a client facing failure carrying the HTTP status and enough
// detail to render an actionable message.
type Error struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code, message string, details map[string]any) *Error {
	return &Error{Status: status, Code: code, Message: message, Details: details}
}

func NewConflictError(id, filename string, err error) *Error {
	e := newError(http.StatusConflict, CodeConflict,
		fmt.Sprintf("attachment '%s' already has content", id),
		map[string]any{"id": id, "filename": filename})
	e.Err = err
	return e
}

func NewNotFoundError(id string) *Error {
	return newError(http.StatusNotFound, CodeNotFound,
		fmt.Sprintf("attachment '%s' not found", id),
		map[string]any{"id": id})
}

func NewValidationError(status int, code, message string, details map[string]any) *Error {
	return newError(status, code, message, details)
}

func NewForbiddenError(id, status string) *Error {
	return newError(http.StatusForbidden, CodeScanNotClean,
		fmt.Sprintf("attachment '%s' cannot be downloaded, scan status is '%s'", id, status),
		map[string]any{"id": id, "status": status})
}

func NewScanPendingError(id string) *Error {
	return newError(http.StatusAccepted, CodeScanPending,
		fmt.Sprintf("attachment '%s' is being rescanned, retry later", id),
		map[string]any{"id": id})
}

func NewRescanRejectedError(id, reason string) *Error {
	return newError(http.StatusConflict, CodeRescanRejected,
		fmt.Sprintf("attachment '%s' cannot be rescanned, %s", id, reason),
		map[string]any{"id": id})
}

func NewNoContentError(id string) *Error {
	return newError(http.StatusNoContent, CodeNoContent,
		fmt.Sprintf("attachment '%s' has no content", id),
		map[string]any{"id": id})
}

// StatusOf returns the HTTP status carried by err, 500 for anything else.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
