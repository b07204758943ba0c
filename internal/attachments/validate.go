package attachments

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/goattach/internal/schema"
)

// ValidateContentLength checks the declared Content-Length header against
// the ceiling of entity and returns the parsed size.
func ValidateContentLength(entity *schema.Entity, header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, NewValidationError(http.StatusLengthRequired, CodeContentLengthRequired,
			"Content-Length header is required", nil)
	}

	size, err := strconv.ParseInt(header, 10, 64)
	if err != nil || size < 0 {
		return 0, NewValidationError(http.StatusBadRequest, CodeInvalidContentLength,
			fmt.Sprintf("invalid Content-Length '%s'", header), nil)
	}

	if entity.MaxContentSize > 0 && size > entity.MaxContentSize {
		return 0, sizeExceeded(entity, size)
	}

	return size, nil
}

// ValidateMimeType rejects mime types outside the allow-list of entity. An
// empty allow-list accepts every type.
func ValidateMimeType(entity *schema.Entity, mimeType string) error {
	if len(entity.AcceptableMediaTypes) == 0 {
		return nil
	}

	for _, pattern := range entity.AcceptableMediaTypes {
		if mediaTypeMatches(pattern, mimeType) {
			return nil
		}
	}

	return NewValidationError(http.StatusBadRequest, CodeUnsupportedMediaType,
		fmt.Sprintf("media type '%s' is not accepted, allowed are: %s", mimeType, strings.Join(entity.AcceptableMediaTypes, ", ")),
		map[string]any{"mimeType": mimeType, "acceptable": entity.AcceptableMediaTypes})
}

func sizeExceeded(entity *schema.Entity, size int64) *Error {
	limit := humanize.Bytes(uint64(entity.MaxContentSize))
	message := fmt.Sprintf("content exceeds the maximum size of %s", limit)
	details := map[string]any{"limit": limit, "maxBytes": entity.MaxContentSize}
	if size > 0 {
		details["size"] = humanize.Bytes(uint64(size))
	}
	return NewValidationError(http.StatusRequestEntityTooLarge, CodeSizeExceeded, message, details)
}

// LimitReader fails with a 413 error once more than entity.MaxContentSize
// bytes were read, regardless of the declared length.
func LimitReader(entity *schema.Entity, r io.Reader) io.Reader {
	if entity.MaxContentSize <= 0 {
		return r
	}
	return &limitedReader{entity: entity, reader: r, remaining: entity.MaxContentSize}
}

type limitedReader struct {
	entity    *schema.Entity
	reader    io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, sizeExceeded(l.entity, 0)
	}

	// Read one byte past the ceiling to detect oversized bodies.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}

	n, err := l.reader.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), sizeExceeded(l.entity, 0)
	}
	return n, err
}
