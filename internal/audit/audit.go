// Package audit records usage of prediction calls. Writes are detached from
// the request: Record never blocks on the store and never fails the caller.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	InsertAuditEntry(ctx context.Context, entry *shared.AuditLogEntry) error
}

type Logger struct {
	store        Store
	log          *zap.SugaredLogger
	previewChars int
	writeTimeout time.Duration
	inflight     sync.WaitGroup
	now          func() time.Time
}

func NewLogger(store Store, log *zap.SugaredLogger, previewChars int, writeTimeout time.Duration) *Logger {
	if previewChars <= 0 {
		previewChars = shared.DefaultPreviewChars
	}
	if writeTimeout <= 0 {
		writeTimeout = shared.DefaultAuditWriteTimeout
	}
	return &Logger{
		store:        store,
		log:          log,
		previewChars: previewChars,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

type Event struct {
	StartTime     time.Time
	UserID        uint64
	SessionID     string
	FlowID        string
	Prompt        string
	Response      string
	ToolCallCount *int
	Streaming     bool
}

// Record builds the entry now and writes it in the background. Streamed
// responses are recorded with a fixed preview since their text is never
// reassembled here.
func (l *Logger) Record(ev Event) {
	now := l.now()
	entry := &shared.AuditLogEntry{
		ID:            uuid.NewString(),
		UserID:        ev.UserID,
		SessionID:     ev.SessionID,
		FlowID:        ev.FlowID,
		PromptPreview: shared.Truncate(ev.Prompt, l.previewChars),
		ToolCallCount: ev.ToolCallCount,
		LatencyMs:     now.Sub(ev.StartTime).Milliseconds(),
		Streaming:     ev.Streaming,
		CreatedAt:     now,
	}
	if ev.Streaming {
		entry.ResponsePreview = shared.StreamedResponsePreview
	} else {
		entry.ResponsePreview = shared.Truncate(ev.Response, l.previewChars)
	}

	l.inflight.Add(1)
	go l.write(entry)
}

func (l *Logger) write(entry *shared.AuditLogEntry) {
	defer l.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditFailures.Inc()
			l.log.Errorw("Audit write panicked", "panic", fmt.Sprint(r), "audit_id", entry.ID)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()
	if err := l.store.InsertAuditEntry(ctx, entry); err != nil {
		metrics.AuditFailures.Inc()
		l.log.Warnw("Failed to write audit entry", "error", err, "audit_id", entry.ID, "user_id", entry.UserID)
	}
}

// Shutdown waits for in-flight writes until ctx is done
func (l *Logger) Shutdown(ctx context.Context) error {
	l.log.Info("Waiting for in-flight audit writes")
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit writes still in flight: %w", ctx.Err())
	}
}
