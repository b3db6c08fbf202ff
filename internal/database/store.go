// Package database defines the reads and insertions the gateway makes
// against mysql
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flowgate/internal/flowconfig"
	"flowgate/internal/shared"
)

// Store reads from the replica and writes to the primary
type Store struct {
	wdb *sql.DB
	rdb *sql.DB
}

func NewStore(wdb, rdb *sql.DB) *Store {
	return &Store{wdb: wdb, rdb: rdb}
}

// GetFlowOverrides returns the overrides stored on the user's assignment of
// the flow, or nil when the flow has none.
func (s *Store) GetFlowOverrides(ctx context.Context, userID uint64, flowID string) (map[string]any, error) {
	var raw sql.NullString
	err := s.rdb.QueryRowContext(ctx, `
		SELECT override_config
		FROM flow_assignment
		WHERE user_id = ? AND flow_id = ?
	`, userID, flowID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed reading flow assignment: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	overrides, err := flowconfig.DecodeOverrides([]byte(raw.String))
	if err != nil {
		return nil, fmt.Errorf("invalid overrides on flow %s: %w", flowID, err)
	}
	return overrides, nil
}

func (s *Store) GetCredential(ctx context.Context, userID uint64) (*flowconfig.CredentialRecord, error) {
	record := flowconfig.CredentialRecord{UserID: userID}
	err := s.rdb.QueryRowContext(ctx, `
		SELECT ciphertext
		FROM user_credential
		WHERE user_id = ?
	`, userID).Scan(&record.Ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed reading user credential: %w", err)
	}
	return &record, nil
}

func (s *Store) GetStoreNamespace(ctx context.Context, userID uint64) (string, error) {
	var namespace string
	err := s.rdb.QueryRowContext(ctx, `
		SELECT namespace
		FROM user_store
		WHERE user_id = ?
	`, userID).Scan(&namespace)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed reading user store: %w", err)
	}
	return namespace, nil
}

// TouchSession creates the session on first use and otherwise moves its
// last request time forward.
func (s *Store) TouchSession(ctx context.Context, userID uint64, sessionID string, at time.Time) error {
	_, err := s.wdb.ExecContext(ctx, `
		INSERT INTO chat_session (user_id, id, created_at, last_request_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_request_at = GREATEST(last_request_at, VALUES(last_request_at))
	`, userID, sessionID, at, at)
	if err != nil {
		return fmt.Errorf("failed touching session: %w", err)
	}
	return nil
}

func (s *Store) InsertAuditEntry(ctx context.Context, entry *shared.AuditLogEntry) error {
	var toolCalls sql.NullInt64
	if entry.ToolCallCount != nil {
		toolCalls = sql.NullInt64{Int64: int64(*entry.ToolCallCount), Valid: true}
	}
	var sessionID sql.NullString
	if entry.SessionID != "" {
		sessionID = sql.NullString{String: entry.SessionID, Valid: true}
	}
	_, err := s.wdb.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, user_id, session_id, flow_id,
			prompt_preview, response_preview, tool_call_count,
			latency_ms, streaming, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.UserID, sessionID, entry.FlowID,
		entry.PromptPreview, entry.ResponsePreview, toolCalls,
		entry.LatencyMs, entry.Streaming, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed inserting audit entry: %w", err)
	}
	return nil
}
