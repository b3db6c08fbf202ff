package shared

import "time"

// HTTP Client Configuration
const (
	DefaultBackendTimeout  = 2 * time.Minute
	DefaultDialTimeout     = 2 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	SessionTouchTimeout    = 5 * time.Second
)

// Cache Configuration
const (
	UserInfoCacheTTL = 1 * time.Minute
)

// API Configuration
const (
	APIKeyLength            = 32
	DefaultMaxBodyBytes     = 1 << 20
	DefaultMaxQuestionChars = 32000
	DefaultMaxHistory       = 200
	DefaultMaxUploads       = 20
)

// Limits Configuration
const (
	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = 1 * time.Minute
	DefaultIdempotencyTTL    = 10 * time.Minute
	PredictionOperation      = "prediction"
)

// Stream Configuration
const (
	DefaultMaxLineBytes = 1 << 20
	StreamReadSize      = 4 << 10
	EndEvent            = "end"
	TokenEvent          = "token"
	ErrorEvent          = "error"
	MetadataEvent       = "metadata"
	OtherEvent          = "other"
	DoneSentinel        = "[DONE]"
)

// Audit Configuration
const (
	DefaultPreviewChars      = 500
	DefaultAuditWriteTimeout = 5 * time.Second
	StreamedResponsePreview  = "[streamed response]"
)

// Override keys injected when absent
const (
	SessionIDOverrideKey      = "sessionId"
	StoreNamespaceOverrideKey = "vectorStoreNamespace"
)

const (
	RequestIDHeader      = "X-Request-ID"
	IdempotencyKeyHeader = "Idempotency-Key"
)
