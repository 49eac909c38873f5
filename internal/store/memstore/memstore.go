// Package memstore is an in-process fake of store.Store, the Go analogue of
// internal/store/file: a second, simpler implementation of the same
// interface used by tests and by the standalone CLI channel when no
// Postgres DSN is configured.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/store"
)

// Store is a goroutine-safe in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	configs  map[string]store.ConfigEntry
	identity store.Identity
	soul     []store.SoulLine
	rules    []store.Rule

	users  map[uuid.UUID]*store.User
	groups map[string]*store.Group // key: platform|platformGroupID

	sessions map[uuid.UUID]*store.Session
	active   map[string]uuid.UUID // key: platform|chatID -> session id
	messages map[uuid.UUID][]store.Message

	memories  map[int64]*store.Memory
	nextMemID int64

	abilities map[string]store.Ability

	tasks map[uuid.UUID]*store.ScheduledTask

	subagents map[uuid.UUID]*store.SubAgentRun
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		configs:   make(map[string]store.ConfigEntry),
		users:     make(map[uuid.UUID]*store.User),
		groups:    make(map[string]*store.Group),
		sessions:  make(map[uuid.UUID]*store.Session),
		active:    make(map[string]uuid.UUID),
		messages:  make(map[uuid.UUID][]store.Message),
		memories:  make(map[int64]*store.Memory),
		abilities: make(map[string]store.Ability),
		tasks:     make(map[uuid.UUID]*store.ScheduledTask),
		subagents: make(map[uuid.UUID]*store.SubAgentRun),
	}
}

func sessionKey(platform, chatID string) string { return platform + "|" + chatID }
func groupKey(platform, groupID string) string  { return platform + "|" + groupID }

func (s *Store) UpsertConfig(_ context.Context, key string, value json.RawMessage, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[key] = store.ConfigEntry{Key: key, Value: value, Description: description}
	return nil
}

func (s *Store) GetConfig(_ context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.configs[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(entry.Value, out)
}

func (s *Store) ListConfigs(_ context.Context) ([]store.ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ConfigEntry, 0, len(s.configs))
	for _, v := range s.configs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) GetIdentity(_ context.Context) (store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, nil
}

func (s *Store) SetIdentity(_ context.Context, id store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	return nil
}

func (s *Store) ListSoulLines(_ context.Context) ([]store.SoulLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SoulLine, len(s.soul))
	copy(out, s.soul)
	return out, nil
}

func (s *Store) ListRules(_ context.Context) ([]store.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *Store) DeleteRule(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rules[:0]
	for _, r := range s.rules {
		if r.Code != code {
			out = append(out, r)
		}
	}
	s.rules = out
	return nil
}

// SeedRule is a test helper; production code populates rules via migrations.
func (s *Store) SeedRule(r store.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
}

func (s *Store) GetUserByPlatformID(_ context.Context, platform, platformID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Platform == platform && u.PlatformID == platformID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateUser(_ context.Context, u store.User) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := u
	s.users[u.ID] = &cp
	return u, nil
}

func (s *Store) UpdateUserAccessLevel(_ context.Context, id uuid.UUID, level store.AccessLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.NewNotFoundError("user")
	}
	if u.IsFirstOwner {
		return fmt.Errorf("user %s is the immutable first owner: access level cannot change", id)
	}
	u.AccessLevel = level
	return nil
}

func (s *Store) AnyOwnerExists(_ context.Context, platform string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Platform == platform && u.AccessLevel == store.AccessOwner {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetGroup(_ context.Context, platform, platformGroupID string) (*store.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupKey(platform, platformGroupID)]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *Store) UpsertGroup(_ context.Context, g store.Group) (store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := g
	s.groups[groupKey(g.Platform, g.PlatformGroupID)] = &cp
	return g, nil
}

func (s *Store) GetActiveSession(_ context.Context, platform, chatID string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[sessionKey(platform, chatID)]
	if !ok {
		return nil, nil
	}
	sess, ok := s.sessions[id]
	if !ok || sess.Status != store.SessionActive {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) CreateSession(_ context.Context, platform, chatID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	sess := store.Session{
		ID:             uuid.New(),
		Platform:       platform,
		PlatformChatID: chatID,
		Status:         store.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.sessions[sess.ID] = &sess
	s.active[sessionKey(platform, chatID)] = sess.ID
	return sess, nil
}

func (s *Store) ArchiveSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.NewNotFoundError("session")
	}
	sess.Status = store.SessionArchived
	sess.UpdatedAt = time.Now().UTC()
	delete(s.active, sessionKey(sess.Platform, sess.PlatformChatID))
	return nil
}

func (s *Store) TouchSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.NewNotFoundError("session")
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendMessage(_ context.Context, m store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	if sess, ok := s.sessions[m.SessionID]; ok {
		sess.MessageCount++
		sess.UpdatedAt = m.CreatedAt
	}
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, sessionID uuid.UUID) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ReplacePrefixWithSummary(_ context.Context, sessionID uuid.UUID, keepLastN int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]

	var nonSystem, system []store.Message
	for _, m := range msgs {
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

	// ListMessages orders by CreatedAt, so the summary is stamped just before
	// the first kept message to stay ahead of the tail.
	summaryAt := time.Now().UTC()
	if len(tail) > 0 {
		summaryAt = tail[0].CreatedAt.Add(-time.Microsecond)
	}
	summaryMsg := store.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      store.RoleAssistant,
		Content:   summary,
		Metadata:  map[string]any{"type": store.MetadataCompactionSummary},
		CreatedAt: summaryAt,
	}

	rebuilt := make([]store.Message, 0, len(system)+1+len(tail))
	rebuilt = append(rebuilt, system...)
	rebuilt = append(rebuilt, summaryMsg)
	rebuilt = append(rebuilt, tail...)
	s.messages[sessionID] = rebuilt

	if sess, ok := s.sessions[sessionID]; ok {
		sess.MessageCount = len(rebuilt)
		sess.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *Store) InsertMemory(_ context.Context, m store.Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMemID++
	m.ID = s.nextMemID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.AccessedAt = m.CreatedAt
	cp := m
	s.memories[m.ID] = &cp
	return m.ID, nil
}

func (s *Store) UpdateMemory(_ context.Context, id int64, content string, embedding []float32, category, source string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return store.NewNotFoundError("memory")
	}
	m.Content = content
	m.Embedding = embedding
	m.Category = category
	m.Source = source
	m.Importance = importance
	return nil
}

func (s *Store) DeleteMemory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	return nil
}

func (s *Store) MemoryNearest(_ context.Context, query []float32, k int, filters store.MemoryFilters) ([]store.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		m   store.Memory
		sim float64
	}
	var candidates []scored
	for _, m := range s.memories {
		if filters.Category != "" && m.Category != filters.Category {
			continue
		}
		if filters.UserID != nil && m.UserID != nil && *m.UserID != *filters.UserID {
			continue
		}
		cp := *m
		cp.Similarity = cosineSimilarity(query, m.Embedding)
		candidates = append(candidates, scored{cp, cp.Similarity})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]store.Memory, len(candidates))
	for i, c := range candidates {
		out[i] = c.m
	}
	return out, nil
}

func (s *Store) TouchMemoryAccess(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			m.AccessCount++
			m.AccessedAt = now
		}
	}
	return nil
}

func (s *Store) AllMemoryEmbeddings(_ context.Context) ([]store.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountMemories(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.memories)), nil
}

func (s *Store) DropAllEmbeddings(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = make(map[int64]*store.Memory)
	return nil
}

func (s *Store) EnsureVectorIndex(_ context.Context, _ int) error { return nil }

func (s *Store) ListAbilities(_ context.Context) ([]store.Ability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Ability, 0, len(s.abilities))
	for _, a := range s.abilities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertAbility(_ context.Context, a store.Ability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abilities[a.Name] = a
	return nil
}

func (s *Store) ListDueTasks(_ context.Context, now int64) ([]store.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ScheduledTask
	for _, t := range s.tasks {
		if !t.Enabled || t.NextRun == nil {
			continue
		}
		if t.NextRun.Unix() <= now {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(*out[j].NextRun) })
	return out, nil
}

func (s *Store) InsertTask(_ context.Context, t store.ScheduledTask) (store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := t
	s.tasks[t.ID] = &cp
	return t, nil
}

func (s *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *Store) UpdateTaskAfterRun(_ context.Context, id uuid.UUID, nextRun *int64, lastRun int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.NewNotFoundError("scheduled task")
	}
	last := time.Unix(lastRun, 0).UTC()
	t.LastRun = &last
	t.RunCount++
	if nextRun == nil {
		t.NextRun = nil
	} else {
		next := time.Unix(*nextRun, 0).UTC()
		t.NextRun = &next
	}
	return nil
}

func (s *Store) InsertSubAgentRun(_ context.Context, r store.SubAgentRun) (store.SubAgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	cp := r
	s.subagents[r.RunID] = &cp
	return r, nil
}

func (s *Store) UpdateSubAgentRun(_ context.Context, r store.SubAgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subagents[r.RunID]; !ok {
		return store.NewNotFoundError("sub-agent run")
	}
	cp := r
	s.subagents[r.RunID] = &cp
	return nil
}

func (s *Store) GetSubAgentRun(_ context.Context, runID uuid.UUID) (*store.SubAgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.subagents[runID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListActiveSubAgentRuns(_ context.Context, parentSessionID *uuid.UUID) ([]store.SubAgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.SubAgentRun
	for _, r := range s.subagents {
		if r.Status != store.SubAgentPending && r.Status != store.SubAgentRunning {
			continue
		}
		if parentSessionID != nil && r.ParentSessionID != *parentSessionID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// WithTx runs fn against the same in-memory Store. Each method fn calls
// takes the store mutex on its own, so the calls inside fn are neither
// isolated from other goroutines nor rolled back when fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn store.TxFunc) error {
	return fn(ctx, s)
}
