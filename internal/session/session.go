// Package session tracks the signed-in operator of a terminal and signs
// them out when their token expires.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"comanda-pos/internal/poserr"
	"comanda-pos/internal/utils"
)

const (
	KeyUser = "@app/user"

	legacyUsername = "username"
	legacyToken    = "userToken"
	legacyExpiry   = "senhaExpiration"
)

// Record is the persisted session. ExpiresAt is in Unix milliseconds.
type Record struct {
	Username  string         `json:"username"`
	Role      string         `json:"cargo"`
	Shop      string         `json:"carrinho"`
	Token     string         `json:"token,omitempty"`
	TokenUser string         `json:"token_user,omitempty"`
	ExpiresAt *int64         `json:"expiresAt"`
	Roles     []string       `json:"roles,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// AuthToken is the token the backend accepts for this operator.
func (r Record) AuthToken() string {
	if r.Token != "" {
		return r.Token
	}
	return r.TokenUser
}

func (r Record) Expiry() (time.Time, bool) {
	if r.ExpiresAt == nil || *r.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(*r.ExpiresAt), true
}

// ValidAt reports a token present and not yet expired at now.
func (r Record) ValidAt(now time.Time) bool {
	if r.AuthToken() == "" {
		return false
	}
	exp, ok := r.Expiry()
	return !ok || exp.After(now)
}

type SignInParams struct {
	Username  string
	Token     string
	TokenUser string
	Role      string
	Shop      string
	ExpiresAt time.Time
	Roles     []string
	Meta      map[string]any
}

type Manager struct {
	store Store
	now   func() time.Time

	// writeMu keeps each store write together with the record change it
	// belongs to.
	writeMu sync.Mutex

	mu        sync.Mutex
	rec       Record
	timer     *time.Timer
	gen       uint64
	onSignOut []func(Record)
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// OnSignOut registers f to run after every sign-out, including the automatic
// one at token expiry.
func (m *Manager) OnSignOut(f func(Record)) {
	m.mu.Lock()
	m.onSignOut = append(m.onSignOut, f)
	m.mu.Unlock()
}

func (m *Manager) Current() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

func (m *Manager) SignedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.ValidAt(m.now())
}

// Restore loads the persisted record. Sessions saved in the old one key per
// field layout are migrated once and the old keys removed.
func (m *Manager) Restore(ctx context.Context) (Record, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read session: %w", err)
	}
	if ok {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.AuthToken() != "" {
			m.set(rec)
			return rec, nil
		}
	}

	rec, found, err := m.readLegacy(ctx)
	if err != nil {
		return Record{}, err
	}
	if !found {
		m.set(Record{})
		return Record{}, nil
	}
	if err := m.persist(ctx, rec); err != nil {
		return Record{}, err
	}
	if err := m.store.Delete(ctx, legacyUsername, legacyToken, legacyExpiry); err != nil {
		log.Printf("session: failed to remove legacy keys: %v", err)
	}
	m.set(rec)
	return rec, nil
}

func (m *Manager) readLegacy(ctx context.Context) (Record, bool, error) {
	username, _, err := m.store.Get(ctx, legacyUsername)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read legacy session: %w", err)
	}
	token, _, err := m.store.Get(ctx, legacyToken)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read legacy session: %w", err)
	}
	expRaw, hasExp, err := m.store.Get(ctx, legacyExpiry)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read legacy session: %w", err)
	}

	rec := Record{Username: username, Token: token}
	if hasExp {
		if ms, err := strconv.ParseInt(strings.TrimSpace(expRaw), 10, 64); err == nil && ms > 0 {
			rec.ExpiresAt = &ms
		}
	}
	if username == "" || token == "" || !rec.ValidAt(m.now()) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// SignIn replaces the session. Without an explicit expiry the token's exp
// claim is used when it has one.
func (m *Manager) SignIn(ctx context.Context, p SignInParams) (Record, error) {
	p.Username = strings.TrimSpace(p.Username)
	if p.Username == "" || (p.Token == "" && p.TokenUser == "") {
		return Record{}, poserr.Validation("session.sign_in", "username and token are required")
	}

	rec := Record{
		Username:  p.Username,
		Role:      p.Role,
		Shop:      p.Shop,
		Token:     p.Token,
		TokenUser: p.TokenUser,
		Roles:     p.Roles,
		Meta:      p.Meta,
	}
	exp := p.ExpiresAt
	if exp.IsZero() {
		exp, _ = utils.TokenExpiry(rec.AuthToken())
	}
	if !exp.IsZero() {
		ms := exp.UnixMilli()
		rec.ExpiresAt = &ms
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.persist(ctx, rec); err != nil {
		return Record{}, err
	}
	m.set(rec)
	return rec, nil
}

// Update applies patch to the current record, persists it and reschedules
// the expiry timer.
func (m *Manager) Update(ctx context.Context, patch func(*Record)) (Record, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	rec := m.Current()
	patch(&rec)
	if err := m.persist(ctx, rec); err != nil {
		return Record{}, err
	}
	m.set(rec)
	return rec, nil
}

// SignOut clears the session. Signing out twice is harmless.
func (m *Manager) SignOut(ctx context.Context) error {
	_, err := m.signOutIf(ctx, func() bool { return true })
	return err
}

// signOutIf clears the session when keep reports true under the record lock.
// It returns the record that was cleared.
func (m *Manager) signOutIf(ctx context.Context, keep func() bool) (Record, error) {
	m.writeMu.Lock()
	m.mu.Lock()
	if !keep() {
		m.mu.Unlock()
		m.writeMu.Unlock()
		return Record{}, nil
	}
	prev := m.rec
	m.rec = Record{}
	m.cancelLocked()
	hooks := append([]func(Record){}, m.onSignOut...)
	m.mu.Unlock()

	err := m.store.Delete(ctx, KeyUser)
	m.writeMu.Unlock()
	if err != nil {
		return prev, fmt.Errorf("failed to remove session: %w", err)
	}
	if prev.AuthToken() != "" {
		for _, h := range hooks {
			h(prev)
		}
	}
	return prev, nil
}

func (m *Manager) persist(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, KeyUser, string(b)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (m *Manager) set(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	m.scheduleLocked()
}

// scheduleLocked replaces the sign-out timer. Missing or past expiries
// schedule nothing.
func (m *Manager) scheduleLocked() {
	m.cancelLocked()
	exp, ok := m.rec.Expiry()
	if !ok {
		return
	}
	d := exp.Sub(m.now())
	if d <= 0 {
		return
	}
	gen := m.gen
	m.timer = time.AfterFunc(d, func() { m.expire(gen) })
}

func (m *Manager) cancelLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// expire signs out only when no mutation rescheduled the timer since gen.
func (m *Manager) expire(gen uint64) {
	prev, err := m.signOutIf(context.Background(), func() bool { return m.gen == gen })
	if err != nil {
		log.Printf("session: auto sign-out failed: %v", err)
		return
	}
	if prev.Username != "" {
		log.Printf("session: token of %s expired, signed out", prev.Username)
	}
}
