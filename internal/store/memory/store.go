// Package memory implements the storage interface with in-process maps.
// A single mutex around every transaction makes transactions trivially
// serializable. Used by tests and by development mode without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/candid-app/candid-core/internal/domain/conversation"
	"github.com/candid-app/candid-core/internal/domain/report"
	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
	"github.com/candid-app/candid-core/internal/store"
)

// Store is an in-memory store.Store implementation.
type Store struct {
	mu sync.Mutex

	users         map[user.UID]user.User
	memberships   map[user.UID]map[string]user.MembershipEntry
	stats         user.GlobalStats
	conversations map[string]conversation.Conversation
	messages      map[string]map[string]conversation.Message
	reports       map[user.UID]report.ReportSet
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:         make(map[user.UID]user.User),
		memberships:   make(map[user.UID]map[string]user.MembershipEntry),
		stats:         user.GlobalStats{Count: 0, NextID: 1},
		conversations: make(map[string]conversation.Conversation),
		messages:      make(map[string]map[string]conversation.Message),
		reports:       make(map[user.UID]report.ReportSet),
	}
}

// WithinTx runs fn under the store mutex. Rollback on error is not
// implemented; tests rely on transitions validating before they write,
// mirroring how the engine orders its reads and writes.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memTx{s: s})
}

// Plain returns repositories that lock per call.
func (s *Store) Plain() store.Tx {
	return &plainTx{s: s}
}

// Close is a no-op.
func (s *Store) Close() {}

// ─────────────────────────────────────────────────────────────────────────────
// Transaction views
// ─────────────────────────────────────────────────────────────────────────────

// memTx assumes the store mutex is already held.
type memTx struct {
	s *Store
}

func (t *memTx) Users() user.Directory             { return (*userDir)(t) }
func (t *memTx) Conversations() conversation.Store { return (*convoStore)(t) }
func (t *memTx) Reports() report.Store             { return (*reportStore)(t) }

// plainTx locks around each individual call.
type plainTx struct {
	s *Store
}

func (t *plainTx) Users() user.Directory {
	return &lockedDir{s: t.s}
}

func (t *plainTx) Conversations() conversation.Store {
	return &lockedConvo{s: t.s}
}

func (t *plainTx) Reports() report.Store {
	return &lockedReports{s: t.s}
}

// ─────────────────────────────────────────────────────────────────────────────
// user.Directory
// ─────────────────────────────────────────────────────────────────────────────

type userDir memTx

func (d *userDir) Get(_ context.Context, uid user.UID) (*user.User, error) {
	u, ok := d.s.users[uid]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	cp := u
	return &cp, nil
}

func (d *userDir) Insert(_ context.Context, u *user.User) error {
	if _, exists := d.s.users[u.ID]; exists {
		return shared.ErrUserExists
	}
	d.s.users[u.ID] = *u
	return nil
}

func (d *userDir) SetNotificationToken(_ context.Context, uid user.UID, token string) error {
	u, ok := d.s.users[uid]
	if !ok {
		return shared.ErrUserNotFound
	}
	u.NotificationToken = token
	d.s.users[uid] = u
	return nil
}

func (d *userDir) Disable(_ context.Context, uid user.UID) error {
	u, ok := d.s.users[uid]
	if !ok {
		return nil
	}
	u.Disabled = true
	d.s.users[uid] = u
	return nil
}

func (d *userDir) BySequenceIDs(_ context.Context, seqs []user.SequenceID) ([]*user.User, error) {
	want := make(map[user.SequenceID]struct{}, len(seqs))
	for _, s := range seqs {
		want[s] = struct{}{}
	}
	var out []*user.User
	for _, u := range d.s.users {
		if _, ok := want[u.SequenceID]; ok {
			cp := u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out, nil
}

func (d *userDir) Stats(_ context.Context) (user.GlobalStats, error) {
	return d.s.stats, nil
}

func (d *userDir) PutStats(_ context.Context, stats user.GlobalStats) error {
	d.s.stats = stats
	return nil
}

func (d *userDir) Memberships(_ context.Context, uid user.UID) (user.Memberships, error) {
	var out user.Memberships
	for _, e := range d.s.memberships[uid] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (d *userDir) Membership(_ context.Context, uid user.UID, conversationID string) (*user.MembershipEntry, error) {
	e, ok := d.s.memberships[uid][conversationID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (d *userDir) UpsertMembership(_ context.Context, uid user.UID, entry user.MembershipEntry) error {
	if entry.LastUpdated.IsZero() {
		entry.LastUpdated = time.Now().UTC()
	}
	if d.s.memberships[uid] == nil {
		d.s.memberships[uid] = make(map[string]user.MembershipEntry)
	}
	d.s.memberships[uid][entry.ConversationID] = entry
	return nil
}

func (d *userDir) DeleteMembership(_ context.Context, uid user.UID, conversationID string) error {
	delete(d.s.memberships[uid], conversationID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// conversation.Store
// ─────────────────────────────────────────────────────────────────────────────

type convoStore memTx

func (c *convoStore) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	conv, ok := c.s.conversations[id]
	if !ok {
		return nil, shared.ErrConversationNotFound
	}
	cp := conv
	cp.OldUIDs = append([]user.UID(nil), conv.OldUIDs...)
	cp.RandomIDs = append([]user.SequenceID(nil), conv.RandomIDs...)
	cp.PendingMessages = append([]conversation.PendingMessage(nil), conv.PendingMessages...)
	return &cp, nil
}

func (c *convoStore) Put(_ context.Context, conv *conversation.Conversation) error {
	cp := *conv
	cp.OldUIDs = append([]user.UID(nil), conv.OldUIDs...)
	cp.RandomIDs = append([]user.SequenceID(nil), conv.RandomIDs...)
	cp.PendingMessages = append([]conversation.PendingMessage(nil), conv.PendingMessages...)
	c.s.conversations[conv.ID] = cp
	return nil
}

func (c *convoStore) Delete(_ context.Context, id string) error {
	delete(c.s.conversations, id)
	delete(c.s.messages, id)
	return nil
}

func (c *convoStore) ListIdle(_ context.Context, olderThan, newerThan time.Time, limit int) ([]string, error) {
	var ids []string
	for id, conv := range c.s.conversations {
		if !conv.Pending && conv.ModifiedAt.Before(olderThan) && conv.ModifiedAt.After(newerThan) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *convoStore) Messages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	var out []conversation.Message
	for _, m := range c.s.messages[conversationID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

func (c *convoStore) UpsertMessage(_ context.Context, conversationID string, m conversation.Message) error {
	if c.s.messages[conversationID] == nil {
		c.s.messages[conversationID] = make(map[string]conversation.Message)
	}
	c.s.messages[conversationID][m.ID] = m
	return nil
}

func (c *convoStore) DeleteMessages(_ context.Context, conversationID string) error {
	delete(c.s.messages, conversationID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// report.Store
// ─────────────────────────────────────────────────────────────────────────────

type reportStore memTx

func (r *reportStore) Get(_ context.Context, uid user.UID) (*report.ReportSet, error) {
	set, ok := r.s.reports[uid]
	if !ok {
		return &report.ReportSet{ReportedUID: uid}, nil
	}
	cp := set
	cp.Reporters = append([]user.UID(nil), set.Reporters...)
	return &cp, nil
}

func (r *reportStore) Put(_ context.Context, set *report.ReportSet) error {
	cp := *set
	cp.Reporters = append([]user.UID(nil), set.Reporters...)
	r.s.reports[set.ReportedUID] = cp
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Locked wrappers for Plain access
// ─────────────────────────────────────────────────────────────────────────────

type lockedDir struct {
	s *Store
}

func (d *lockedDir) under() *userDir { return &userDir{s: d.s} }

func (d *lockedDir) Get(ctx context.Context, uid user.UID) (*user.User, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Get(ctx, uid)
}

func (d *lockedDir) Insert(ctx context.Context, u *user.User) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Insert(ctx, u)
}

func (d *lockedDir) SetNotificationToken(ctx context.Context, uid user.UID, token string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().SetNotificationToken(ctx, uid, token)
}

func (d *lockedDir) Disable(ctx context.Context, uid user.UID) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Disable(ctx, uid)
}

func (d *lockedDir) BySequenceIDs(ctx context.Context, seqs []user.SequenceID) ([]*user.User, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().BySequenceIDs(ctx, seqs)
}

func (d *lockedDir) Stats(ctx context.Context) (user.GlobalStats, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Stats(ctx)
}

func (d *lockedDir) PutStats(ctx context.Context, stats user.GlobalStats) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().PutStats(ctx, stats)
}

func (d *lockedDir) Memberships(ctx context.Context, uid user.UID) (user.Memberships, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Memberships(ctx, uid)
}

func (d *lockedDir) Membership(ctx context.Context, uid user.UID, conversationID string) (*user.MembershipEntry, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().Membership(ctx, uid, conversationID)
}

func (d *lockedDir) UpsertMembership(ctx context.Context, uid user.UID, entry user.MembershipEntry) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().UpsertMembership(ctx, uid, entry)
}

func (d *lockedDir) DeleteMembership(ctx context.Context, uid user.UID, conversationID string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.under().DeleteMembership(ctx, uid, conversationID)
}

type lockedConvo struct {
	s *Store
}

func (c *lockedConvo) under() *convoStore { return &convoStore{s: c.s} }

func (c *lockedConvo) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().Get(ctx, id)
}

func (c *lockedConvo) Put(ctx context.Context, conv *conversation.Conversation) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().Put(ctx, conv)
}

func (c *lockedConvo) Delete(ctx context.Context, id string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().Delete(ctx, id)
}

func (c *lockedConvo) ListIdle(ctx context.Context, olderThan, newerThan time.Time, limit int) ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().ListIdle(ctx, olderThan, newerThan, limit)
}

func (c *lockedConvo) Messages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().Messages(ctx, conversationID)
}

func (c *lockedConvo) UpsertMessage(ctx context.Context, conversationID string, m conversation.Message) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().UpsertMessage(ctx, conversationID, m)
}

func (c *lockedConvo) DeleteMessages(ctx context.Context, conversationID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.under().DeleteMessages(ctx, conversationID)
}

type lockedReports struct {
	s *Store
}

func (r *lockedReports) Get(ctx context.Context, uid user.UID) (*report.ReportSet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return (&reportStore{s: r.s}).Get(ctx, uid)
}

func (r *lockedReports) Put(ctx context.Context, set *report.ReportSet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return (&reportStore{s: r.s}).Put(ctx, set)
}
