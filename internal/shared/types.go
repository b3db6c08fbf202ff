package shared

import "time"

type HistoryMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

type Upload struct {
	Data string `json:"data"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// InboundRequest is the parsed body of a prediction call
type InboundRequest struct {
	FlowID         string           `json:"flowId"`
	Question       *string          `json:"question"`
	History        []HistoryMessage `json:"history,omitempty"`
	OverrideConfig map[string]any   `json:"overrideConfig,omitempty"`
	Streaming      bool             `json:"streaming"`
	Uploads        []Upload         `json:"uploads,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
	SessionID      string           `json:"sessionId,omitempty"`
}

// PredictionPayload is the merged body sent to the backend
type PredictionPayload struct {
	Question       string           `json:"question"`
	History        []HistoryMessage `json:"history,omitempty"`
	OverrideConfig map[string]any   `json:"overrideConfig,omitempty"`
	Streaming      bool             `json:"streaming"`
	Uploads        []Upload         `json:"uploads,omitempty"`
}

type AuditLogEntry struct {
	ID              string
	UserID          uint64
	SessionID       string
	FlowID          string
	PromptPreview   string
	ResponsePreview string
	ToolCallCount   *int
	LatencyMs       int64
	Streaming       bool
	CreatedAt       time.Time
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	ResetAt string `json:"resetAt,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

type UserMetadata struct {
	Email  string `json:"email,omitempty"`
	UserID uint64 `json:"user_id,omitempty"`
	APIKey string `json:"-"`
}
