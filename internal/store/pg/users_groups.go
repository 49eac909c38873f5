package pg

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/syneagent/syne/internal/store"
)

func (s *Store) GetUserByPlatformID(ctx context.Context, platform, platformID string) (*store.User, error) {
	var u store.User
	err := s.db().QueryRow(ctx, `
		SELECT id, platform, platform_id, display_name, access_level, preferences, aliases, is_first_owner, created_at
		FROM users WHERE platform = $1 AND platform_id = $2
	`, platform, platformID).Scan(&u.ID, &u.Platform, &u.PlatformID, &u.DisplayName, &u.AccessLevel,
		&u.Preferences, &u.Aliases, &u.IsFirstOwner, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Preferences == nil {
		u.Preferences = json.RawMessage(`{}`)
	}
	if u.Aliases == nil {
		u.Aliases = json.RawMessage(`{}`)
	}
	_, err := s.db().Exec(ctx, `
		INSERT INTO users (id, platform, platform_id, display_name, access_level, preferences, aliases, is_first_owner)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Platform, u.PlatformID, u.DisplayName, u.AccessLevel, u.Preferences, u.Aliases, u.IsFirstOwner)
	if err != nil {
		return store.User{}, err
	}
	return u, nil
}

// UpdateUserAccessLevel refuses to change the level of a first owner: that
// flag is set once at promotion time and never revisited.
func (s *Store) UpdateUserAccessLevel(ctx context.Context, id uuid.UUID, level store.AccessLevel) error {
	tag, err := s.db().Exec(ctx, `
		UPDATE users SET access_level = $1 WHERE id = $2 AND NOT is_first_owner
	`, level, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var isFirstOwner bool
		checkErr := s.db().QueryRow(ctx, `SELECT is_first_owner FROM users WHERE id = $1`, id).Scan(&isFirstOwner)
		if checkErr == nil && isFirstOwner {
			return store.NewNotFoundError("mutable user")
		}
		return store.NewNotFoundError("user")
	}
	return nil
}

func (s *Store) AnyOwnerExists(ctx context.Context, platform string) (bool, error) {
	var exists bool
	err := s.db().QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE platform = $1 AND access_level = $2)
	`, platform, store.AccessOwner).Scan(&exists)
	return exists, err
}

func (s *Store) GetGroup(ctx context.Context, platform, platformGroupID string) (*store.Group, error) {
	var g store.Group
	var settingsRaw json.RawMessage
	err := s.db().QueryRow(ctx, `
		SELECT id, platform, platform_group_id, name, enabled, require_mention, allow_from, settings
		FROM groups WHERE platform = $1 AND platform_group_id = $2
	`, platform, platformGroupID).Scan(&g.ID, &g.Platform, &g.PlatformGroupID, &g.Name, &g.Enabled,
		&g.RequireMention, &g.AllowFrom, &settingsRaw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settingsRaw, &g.Settings); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) UpsertGroup(ctx context.Context, g store.Group) (store.Group, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	settingsRaw, err := json.Marshal(g.Settings)
	if err != nil {
		return store.Group{}, err
	}
	_, err = s.db().Exec(ctx, `
		INSERT INTO groups (id, platform, platform_group_id, name, enabled, require_mention, allow_from, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (platform, platform_group_id) DO UPDATE SET
			name = EXCLUDED.name, enabled = EXCLUDED.enabled, require_mention = EXCLUDED.require_mention,
			allow_from = EXCLUDED.allow_from, settings = EXCLUDED.settings
	`, g.ID, g.Platform, g.PlatformGroupID, g.Name, g.Enabled, g.RequireMention, g.AllowFrom, settingsRaw)
	if err != nil {
		return store.Group{}, err
	}
	existing, err := s.GetGroup(ctx, g.Platform, g.PlatformGroupID)
	if err != nil {
		return store.Group{}, err
	}
	return *existing, nil
}
