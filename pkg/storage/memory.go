package storage

import (
	"context"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"github.com/smartenergy/smartenergy/pkg/types"
)

// Memory keeps wizard sessions in process memory. It is only suitable for a
// single instance deployment since sessions are not shared.
type Memory struct {
	sessions *haxmap.Map[string, *types.WizardSession]
	ttl      time.Duration
	now      func() time.Time
}

var _ Sessions = (*Memory)(nil)

// NewMemory returns an empty in-memory store whose sessions live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		sessions: haxmap.New[string, *types.WizardSession](),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create implements Sessions.
func (m *Memory) Create(ctx context.Context, vendor types.Vendor) (types.WizardSession, error) {
	now := m.now().UTC()
	sess := &types.WizardSession{
		ID:        uuid.NewString(),
		Vendor:    vendor,
		Data:      map[string]any{},
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.sessions.Set(sess.ID, sess)
	return copySession(sess), nil
}

// Get implements Sessions.
func (m *Memory) Get(ctx context.Context, id string) (types.WizardSession, error) {
	sess, ok := m.sessions.Get(id)
	if !ok {
		return types.WizardSession{}, ErrSessionNotFound
	}
	if sess.Expired(m.now()) {
		m.sessions.Del(id)
		return types.WizardSession{}, ErrSessionExpired
	}
	return copySession(sess), nil
}

// Update implements Sessions. Stored sessions are never mutated in place, a
// new snapshot replaces the old one only if no other writer replaced it
// first. A destroyed session is not brought back.
func (m *Memory) Update(ctx context.Context, id string, update types.WizardSessionUpdate) error {
	for {
		cur, ok := m.sessions.Get(id)
		if !ok {
			return ErrSessionNotFound
		}
		if cur.Expired(m.now()) {
			m.sessions.Del(id)
			return ErrSessionExpired
		}
		sess := copySession(cur)
		sess.Data = types.MergeSessionData(sess.Data, update.Data)
		if update.LastStep != "" {
			sess.LastStep = update.LastStep
		}
		sess.NextStep = update.NextStep
		if m.sessions.CompareAndSwap(id, cur, &sess) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Destroy implements Sessions.
func (m *Memory) Destroy(ctx context.Context, id string) error {
	m.sessions.Del(id)
	return nil
}

// PurgeExpired implements Sessions.
func (m *Memory) PurgeExpired(ctx context.Context) (int, error) {
	now := m.now()
	var expired []string
	m.sessions.ForEach(func(id string, sess *types.WizardSession) bool {
		if sess.Expired(now) {
			expired = append(expired, id)
		}
		return true
	})
	if len(expired) > 0 {
		m.sessions.Del(expired...)
	}
	return len(expired), nil
}

// Len returns the number of stored sessions, including expired ones that
// have not been purged yet.
func (m *Memory) Len() int {
	return int(m.sessions.Len())
}

// Close implements Sessions. There is nothing to release.
func (m *Memory) Close() error {
	return nil
}

func copySession(sess *types.WizardSession) types.WizardSession {
	cp := *sess
	cp.Data = types.MergeSessionData(make(map[string]any, len(sess.Data)), sess.Data)
	return cp
}
