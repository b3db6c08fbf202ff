// Package admission bounds and validates inbound prediction requests before
// any shared state is touched.
package admission

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"flowgate/internal/config"
	"flowgate/internal/shared"
)

const maxIdempotencyKeyChars = 255

var (
	historyRoles = map[string]bool{"userMessage": true, "apiMessage": true}
	uploadTypes  = map[string]bool{"file": true, "url": true, "audio": true, "file:rag": true, "file:full": true}
)

// ReadBody reads at most maxBytes from body. A declared Content-Length over
// the bound is rejected without reading; otherwise reading stops as soon as
// one byte past the bound arrives.
func ReadBody(body io.Reader, contentLength int64, maxBytes int64) ([]byte, error) {
	if contentLength > maxBytes {
		return nil, shared.NewBodyTooLargeError(maxBytes)
	}
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, errors.Join(shared.ErrInvalidRequest, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, shared.NewBodyTooLargeError(maxBytes)
	}
	return data, nil
}

// Parse decodes and validates a request body. Invalid UTF-8 inside strings is
// replaced rather than rejected.
func Parse(body []byte, limits config.LimitsConfig) (*shared.InboundRequest, error) {
	var req shared.InboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.Join(shared.ErrInvalidRequest, err)
	}

	req.FlowID = strings.TrimSpace(req.FlowID)
	if req.FlowID == "" {
		return nil, shared.ErrMissingFlowID
	}
	if req.Question == nil || strings.TrimSpace(*req.Question) == "" {
		return nil, shared.ErrMissingQuestion
	}
	if n := utf8.RuneCountInString(*req.Question); n > limits.MaxQuestionChars {
		return nil, shared.NewValidationError("question exceeds maximum length of %d characters", limits.MaxQuestionChars)
	}

	if len(req.History) > limits.MaxHistory {
		return nil, shared.NewValidationError("history exceeds maximum of %d messages", limits.MaxHistory)
	}
	for i, msg := range req.History {
		if !historyRoles[msg.Role] {
			return nil, shared.NewValidationError("history[%d].role must be userMessage or apiMessage", i)
		}
	}

	if len(req.Uploads) > limits.MaxUploads {
		return nil, shared.NewValidationError("uploads exceeds maximum of %d items", limits.MaxUploads)
	}
	for i, up := range req.Uploads {
		if !uploadTypes[up.Type] {
			return nil, shared.NewValidationError("uploads[%d].type %q is not supported", i, up.Type)
		}
		if up.Data == "" {
			return nil, shared.NewValidationError("uploads[%d].data is required", i)
		}
	}

	if utf8.RuneCountInString(req.IdempotencyKey) > maxIdempotencyKeyChars {
		return nil, shared.NewValidationError("idempotencyKey exceeds maximum length of %d characters", maxIdempotencyKeyChars)
	}
	req.SessionID = strings.TrimSpace(req.SessionID)

	return &req, nil
}
