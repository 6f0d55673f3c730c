package service

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"wallabag_syncer/internal/domain"
)

type txKey struct{}

// memStore is an in-memory EntryStore, TagStore, SyncStateStore and
// TransactionManager. Transactions are serialized and roll back by restoring
// a snapshot.
type memStore struct {
	txMu sync.Mutex

	mu          sync.Mutex
	entries     map[int64]domain.Entry
	tags        map[int64]domain.Tag
	links       map[int64][]int64
	states      map[string]domain.SyncState
	entryWrites int

	upsertErr map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		entries:   make(map[int64]domain.Entry),
		tags:      make(map[int64]domain.Tag),
		links:     make(map[int64][]int64),
		states:    make(map[string]domain.SyncState),
		upsertErr: make(map[int64]error),
	}
}

type memSnapshot struct {
	entries map[int64]domain.Entry
	tags    map[int64]domain.Tag
	links   map[int64][]int64
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := memSnapshot{
		entries: maps.Clone(m.entries),
		tags:    maps.Clone(m.tags),
		links:   maps.Clone(m.links),
	}
	writes := m.entryWrites
	m.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		m.mu.Lock()
		m.entries, m.tags, m.links = snap.entries, snap.tags, snap.links
		m.entryWrites = writes
		m.mu.Unlock()
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (m *memStore) Get(_ context.Context, id int64) (*domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.Tags = slices.Clone(e.Tags)
	return &e, nil
}

func (m *memStore) Upsert(_ context.Context, entry *domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.upsertErr[entry.ID]; err != nil {
		return err
	}
	e := *entry
	e.Tags = slices.Clone(entry.Tags)
	m.entries[entry.ID] = e
	m.entryWrites++
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.entries, id)
	delete(m.links, id)
	m.entryWrites++
	return nil
}

func (m *memStore) DeleteNotIn(_ context.Context, keep []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted []int64
	for id := range m.entries {
		if !slices.Contains(keep, id) {
			deleted = append(deleted, id)
		}
	}
	for _, id := range deleted {
		delete(m.entries, id)
		delete(m.links, id)
	}
	if len(deleted) > 0 {
		m.entryWrites++
	}
	slices.Sort(deleted)
	return deleted, nil
}

func (m *memStore) SetUpdatedAt(_ context.Context, id int64, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.UpdatedAt = updatedAt
	m.entries[id] = e
	m.entryWrites++
	return nil
}

func (m *memStore) SetFlags(_ context.Context, id int64, archived, starred bool, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.IsArchived = archived
	e.IsStarred = starred
	e.UpdatedAt = updatedAt
	m.entries[id] = e
	m.entryWrites++
	return nil
}

func (m *memStore) UpsertBatch(_ context.Context, tags []domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, t := range tags {
		if m.tags[t.ID] != t {
			m.tags[t.ID] = t
			changed = true
		}
	}
	if changed {
		m.entryWrites++
	}
	return nil
}

func (m *memStore) LinkToEntry(_ context.Context, entryID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links[entryID] = slices.Clone(tagIDs)
	return nil
}

type syncStates struct{ *memStore }

func (s syncStates) Get(_ context.Context, sourceID string) (*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[sourceID]
	if !ok {
		return &domain.SyncState{SourceID: sourceID}, nil
	}
	return &st, nil
}

func (s syncStates) Update(_ context.Context, state *domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.SourceID] = *state
	return nil
}

func (m *memStore) seed(entries ...domain.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
}

func (m *memStore) entry(id int64) (domain.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *memStore) ids() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Collect(maps.Keys(m.entries))
	slices.Sort(ids)
	return ids
}

func (m *memStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryWrites
}

func (m *memStore) state(sourceID string) (domain.SyncState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[sourceID]
	return st, ok
}

// eventLog records the events of a pass.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) record(ev domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}
