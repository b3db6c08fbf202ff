package prediction

import (
	"fmt"
	"net/http"
	"strings"
)

const credentialHint = "the backend rejected the credential: check the API key saved on your account or the gateway's system backend key"

// UpstreamError is a failed backend call. Message keeps as much of the
// backend's own error text as is safe to return.
type UpstreamError struct {
	StatusCode   int
	Message      string
	Unauthorized bool
	Err          error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("backend request failed with status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("backend request failed with status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("backend request failed: %v", e.Err)
	default:
		return "backend request failed"
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Hint is set only for failures that look like a credential problem
func (e *UpstreamError) Hint() string {
	if e.Unauthorized {
		return credentialHint
	}
	return ""
}

var unauthorizedMarkers = []string{"unauthorized", "invalid api key", "api key", "forbidden", "authentication"}

func looksUnauthorized(status int, body string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range unauthorizedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
