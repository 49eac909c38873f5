package pg

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/syneagent/syne/internal/store"
)

func (s *Store) UpsertConfig(ctx context.Context, key string, value json.RawMessage, description string) error {
	_, err := s.db().Exec(ctx, `
		INSERT INTO config (key, value, description) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, description = EXCLUDED.description
	`, key, value, description)
	return err
}

func (s *Store) GetConfig(ctx context.Context, key string, out any) (bool, error) {
	var raw json.RawMessage
	err := s.db().QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&raw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *Store) ListConfigs(ctx context.Context) ([]store.ConfigEntry, error) {
	rows, err := s.db().Query(ctx, `SELECT key, value, description FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConfigEntry
	for rows.Next() {
		var e store.ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Description); err != nil {
			return nil, err
		}
		// Credential values are never returned in cleartext by list operations.
		if e.IsCredential() {
			e.Value = json.RawMessage(`"[redacted]"`)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetIdentity(ctx context.Context) (store.Identity, error) {
	var id store.Identity
	err := s.db().QueryRow(ctx, `SELECT name, motto, backstory, personality FROM identity WHERE id = TRUE`).
		Scan(&id.Name, &id.Motto, &id.Backstory, &id.Personality)
	if err == pgx.ErrNoRows {
		return store.Identity{}, nil
	}
	return id, err
}

func (s *Store) SetIdentity(ctx context.Context, id store.Identity) error {
	_, err := s.db().Exec(ctx, `
		INSERT INTO identity (id, name, motto, backstory, personality) VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, motto = EXCLUDED.motto,
			backstory = EXCLUDED.backstory, personality = EXCLUDED.personality
	`, id.Name, id.Motto, id.Backstory, id.Personality)
	return err
}

func (s *Store) ListSoulLines(ctx context.Context) ([]store.SoulLine, error) {
	rows, err := s.db().Query(ctx, `SELECT id, category, content, ordinal FROM soul_lines ORDER BY category, ordinal`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SoulLine
	for rows.Next() {
		var l store.SoulLine
		if err := rows.Scan(&l.ID, &l.Category, &l.Content, &l.Ordinal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListRules(ctx context.Context) ([]store.Rule, error) {
	rows, err := s.db().Query(ctx, `SELECT id, code, severity, text FROM rules ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Rule
	for rows.Next() {
		var r store.Rule
		if err := rows.Scan(&r.ID, &r.Code, &r.Severity, &r.Text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRule(ctx context.Context, code string) error {
	_, err := s.db().Exec(ctx, `DELETE FROM rules WHERE code = $1`, code)
	return err
}
