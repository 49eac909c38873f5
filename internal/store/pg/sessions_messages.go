package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/syneagent/syne/internal/store"
)

func (s *Store) GetActiveSession(ctx context.Context, platform, chatID string) (*store.Session, error) {
	var sess store.Session
	err := s.db().QueryRow(ctx, `
		SELECT id, platform, platform_chat_id, status, message_count, created_at, updated_at
		FROM sessions WHERE platform = $1 AND platform_chat_id = $2 AND status = 'active'
	`, platform, chatID).Scan(&sess.ID, &sess.Platform, &sess.PlatformChatID, &sess.Status,
		&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("postgres", err)
	}
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, platform, chatID string) (store.Session, error) {
	sess := store.Session{
		ID:             uuid.New(),
		Platform:       platform,
		PlatformChatID: chatID,
		Status:         store.SessionActive,
	}
	err := s.db().QueryRow(ctx, `
		INSERT INTO sessions (id, platform, platform_chat_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, sess.ID, sess.Platform, sess.PlatformChatID, sess.Status).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

func (s *Store) ArchiveSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db().Exec(ctx, `
		UPDATE sessions SET status = 'archived', updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NewNotFoundError("session")
	}
	return nil
}

func (s *Store) TouchSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db().Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.NewNotFoundError("session")
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) (store.Message, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	metaRaw, err := json.Marshal(m.Metadata)
	if err != nil {
		return store.Message{}, err
	}
	err = s.db().QueryRow(ctx, `
		INSERT INTO messages (id, session_id, role, content, tool_call_id, tool_name, tool_args, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING created_at
	`, m.ID, m.SessionID, m.Role, m.Content, m.ToolCallID, m.ToolName, nullableJSON(m.ToolArgs), metaRaw).
		Scan(&m.CreatedAt)
	if err != nil {
		return store.Message{}, wrapErr("postgres", err)
	}
	_, err = s.db().Exec(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = $2 WHERE id = $1
	`, m.SessionID, m.CreatedAt)
	return m, wrapErr("postgres", err)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]store.Message, error) {
	rows, err := s.db().Query(ctx, `
		SELECT id, session_id, role, content, COALESCE(tool_call_id, ''), COALESCE(tool_name, ''),
		       tool_args, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var toolArgs, metaRaw json.RawMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolCallID, &m.ToolName,
			&toolArgs, &metaRaw, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ToolArgs = toolArgs
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &m.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplacePrefixWithSummary keeps every system message plus the last keepLastN
// non-system messages, and collapses everything before that tail into one
// synthetic assistant row. Callers invoke this from inside store.WithTx so
// the delete+reinsert is atomic.
func (s *Store) ReplacePrefixWithSummary(ctx context.Context, sessionID uuid.UUID, keepLastN int, summary string) error {
	all, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	var nonSystem, system []store.Message
	for _, m := range all {
		if m.Role == store.RoleSystem {
			system = append(system, m)
		} else {
			nonSystem = append(nonSystem, m)
		}
	}

	tailStart := len(nonSystem) - keepLastN
	if tailStart < 0 {
		tailStart = 0
	}
	tail := nonSystem[tailStart:]

	if _, err := s.db().Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return err
	}

	reinsert := func(m store.Message) error {
		_, err := s.db().Exec(ctx, `
			INSERT INTO messages (id, session_id, role, content, tool_call_id, tool_name, tool_args, metadata, created_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
		`, m.ID, sessionID, m.Role, m.Content, m.ToolCallID, m.ToolName, nullableJSON(m.ToolArgs), mustMarshal(m.Metadata), m.CreatedAt)
		return err
	}

	for _, m := range system {
		if err := reinsert(m); err != nil {
			return err
		}
	}

	// ListMessages orders by created_at, so the summary is stamped just before
	// the first kept message to stay ahead of the tail.
	summaryAt := time.Now().UTC()
	if len(tail) > 0 {
		summaryAt = tail[0].CreatedAt.Add(-time.Microsecond)
	}
	summaryMsg := store.Message{
		ID:        uuid.New(),
		Role:      store.RoleAssistant,
		Content:   summary,
		Metadata:  map[string]any{"type": store.MetadataCompactionSummary},
		CreatedAt: summaryAt,
	}
	if err := reinsert(summaryMsg); err != nil {
		return err
	}

	for _, m := range tail {
		if err := reinsert(m); err != nil {
			return err
		}
	}

	total := len(system) + 1 + len(tail)
	_, err = s.db().Exec(ctx, `UPDATE sessions SET message_count = $2, updated_at = now() WHERE id = $1`, sessionID, total)
	return err
}

func mustMarshal(v map[string]any) json.RawMessage {
	if v == nil {
		v = map[string]any{}
	}
	raw, _ := json.Marshal(v)
	return raw
}
