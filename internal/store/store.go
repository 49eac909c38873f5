package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// MemoryFilters narrows a nearest-neighbor memory search.
type MemoryFilters struct {
	Category string
	UserID   *uuid.UUID
}

// TxFunc runs inside a single transaction; returning an error rolls back.
type TxFunc func(ctx context.Context, tx Store) error

// Store is the typed access layer over the relational store. Concrete
// implementations live under store/pg (Postgres + pgvector) and
// store/memstore (in-process fake, used by tests and the standalone CLI
// channel when no database is configured).
type Store interface {
	// Config / credentials.
	UpsertConfig(ctx context.Context, key string, value json.RawMessage, description string) error
	GetConfig(ctx context.Context, key string, out any) (bool, error)
	ListConfigs(ctx context.Context) ([]ConfigEntry, error)

	// Identity / soul / rules.
	GetIdentity(ctx context.Context) (Identity, error)
	SetIdentity(ctx context.Context, id Identity) error
	ListSoulLines(ctx context.Context) ([]SoulLine, error)
	ListRules(ctx context.Context) ([]Rule, error)
	DeleteRule(ctx context.Context, code string) error

	// Users.
	GetUserByPlatformID(ctx context.Context, platform, platformID string) (*User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUserAccessLevel(ctx context.Context, id uuid.UUID, level AccessLevel) error
	AnyOwnerExists(ctx context.Context, platform string) (bool, error)

	// Groups.
	GetGroup(ctx context.Context, platform, platformGroupID string) (*Group, error)
	UpsertGroup(ctx context.Context, g Group) (Group, error)

	// Sessions.
	GetActiveSession(ctx context.Context, platform, chatID string) (*Session, error)
	CreateSession(ctx context.Context, platform, chatID string) (Session, error)
	ArchiveSession(ctx context.Context, id uuid.UUID) error
	TouchSession(ctx context.Context, id uuid.UUID) error

	// Messages.
	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
	ReplacePrefixWithSummary(ctx context.Context, sessionID uuid.UUID, keepLastN int, summary string) error

	// Memory.
	InsertMemory(ctx context.Context, m Memory) (int64, error)
	UpdateMemory(ctx context.Context, id int64, content string, embedding []float32, category, source string, importance float64) error
	DeleteMemory(ctx context.Context, id int64) error
	MemoryNearest(ctx context.Context, query []float32, k int, filters MemoryFilters) ([]Memory, error)
	TouchMemoryAccess(ctx context.Context, ids []int64) error
	AllMemoryEmbeddings(ctx context.Context) ([]Memory, error)
	CountMemories(ctx context.Context) (int64, error)
	DropAllEmbeddings(ctx context.Context) error
	EnsureVectorIndex(ctx context.Context, dim int) error

	// Abilities.
	ListAbilities(ctx context.Context) ([]Ability, error)
	UpsertAbility(ctx context.Context, a Ability) error

	// Scheduled tasks.
	ListDueTasks(ctx context.Context, now int64) ([]ScheduledTask, error)
	InsertTask(ctx context.Context, t ScheduledTask) (ScheduledTask, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	UpdateTaskAfterRun(ctx context.Context, id uuid.UUID, nextRun *int64, lastRun int64) error

	// Sub-agent runs.
	InsertSubAgentRun(ctx context.Context, r SubAgentRun) (SubAgentRun, error)
	UpdateSubAgentRun(ctx context.Context, r SubAgentRun) error
	GetSubAgentRun(ctx context.Context, runID uuid.UUID) (*SubAgentRun, error)
	ListActiveSubAgentRuns(ctx context.Context, parentSessionID *uuid.UUID) ([]SubAgentRun, error)

	// WithTx runs fn inside one transaction; the Store passed to fn shares
	// that transaction for every nested call. Compaction (store.ReplacePrefixWithSummary)
	// is always invoked from inside a WithTx block.
	WithTx(ctx context.Context, fn TxFunc) error
}

// ErrNotFound is returned by point lookups that find nothing.
type notFoundError struct{ what string }

func (e notFoundError) Error() string { return e.what + " not found" }

// NewNotFoundError builds a typed not-found error for a given entity name.
func NewNotFoundError(what string) error { return notFoundError{what} }
