// Package identity resolves an inbound platform sender to a store.User,
// bootstrapping the very first sender on a platform as its owner and gating
// everyone after that behind a pairing code an existing owner must approve.
// Grounded on store.User's AccessLevel/IsFirstOwner/AnyOwnerExists surface —
// there is no separate pairing-code table; the code is a short-lived,
// in-process mapping from code to the pending store.User it approves.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syneagent/syne/internal/store"
)

// codeTTL bounds how long an unapproved pairing code stays valid.
const codeTTL = 30 * time.Minute

type pendingCode struct {
	userID    string
	expiresAt time.Time
}

// Resolver resolves platform senders to store.User rows and brokers pairing
// codes for the access-gated (non-owner) case. One Resolver is shared across
// every channel adapter.
type Resolver struct {
	store store.Store

	mu    sync.Mutex
	codes map[string]pendingCode // code -> pending user
}

// NewResolver creates a Resolver backed by st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st, codes: make(map[string]pendingCode)}
}

// Resolve looks up or creates the store.User for (platform, platformID). The
// very first sender ever seen on a platform is promoted straight to owner;
// everyone after starts AccessPending until an owner approves their code.
func (r *Resolver) Resolve(ctx context.Context, platform, platformID, displayName string) (store.User, error) {
	existing, err := r.store.GetUserByPlatformID(ctx, platform, platformID)
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}

	anyOwner, err := r.store.AnyOwnerExists(ctx, platform)
	if err != nil {
		return store.User{}, fmt.Errorf("check existing owner: %w", err)
	}

	level := store.AccessPending
	isFirstOwner := false
	if !anyOwner {
		level = store.AccessOwner
		isFirstOwner = true
	}

	prefs, _ := json.Marshal(map[string]any{})
	return r.store.CreateUser(ctx, store.User{
		Platform:     platform,
		PlatformID:   platformID,
		DisplayName:  displayName,
		AccessLevel:  level,
		IsFirstOwner: isFirstOwner,
		Preferences:  prefs,
		Aliases:      prefs,
	})
}

// IsPaired reports whether the platform sender is known and not pending/blocked.
// Matches the channel adapters' call shape (platformID, platform) — no ctx,
// since it is invoked from hot message-handling paths that don't thread one.
func (r *Resolver) IsPaired(platformID, platform string) bool {
	u, err := r.store.GetUserByPlatformID(context.Background(), platform, platformID)
	if err != nil || u == nil {
		return false
	}
	return u.AccessLevel != store.AccessPending && u.AccessLevel != store.AccessBlocked
}

// RequestPairing issues a short-lived code for the pending user identified
// by (platform, platformID), creating the user row if this is their first
// contact. scope is currently unused beyond documentation — every channel's
// pairing flow shares one code namespace.
func (r *Resolver) RequestPairing(platformID, platform, chatID, scope string) (string, error) {
	ctx := context.Background()
	u, err := r.Resolve(ctx, platform, platformID, "")
	if err != nil {
		return "", err
	}

	code := generateCode()
	r.mu.Lock()
	r.codes[code] = pendingCode{userID: u.ID.String(), expiresAt: time.Now().Add(codeTTL)}
	r.mu.Unlock()
	return code, nil
}

// Approve promotes the user behind code to AccessFamily, the normal
// "paired, not owner" level. Returns the resolved user ID on success.
func (r *Resolver) Approve(ctx context.Context, code string) (string, error) {
	r.mu.Lock()
	pc, ok := r.codes[code]
	if ok {
		delete(r.codes, code)
	}
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("pairing code not found or already used")
	}
	if time.Now().After(pc.expiresAt) {
		return "", fmt.Errorf("pairing code expired")
	}

	id, err := uuid.Parse(pc.userID)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateUserAccessLevel(ctx, id, store.AccessFamily); err != nil {
		return "", fmt.Errorf("approve user: %w", err)
	}
	return pc.userID, nil
}

func generateCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}
