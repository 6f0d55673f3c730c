package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"wallabag_syncer/internal/config"
	"wallabag_syncer/internal/domain"
)

// SyncService keeps the local entry store in step with the server. Only one
// pass runs at a time; Add, Delete and the flag setters go straight to the
// store and do not wait for a pass.
type SyncService struct {
	remote    RemoteClient
	entries   EntryStore
	tags      TagStore
	syncState SyncStateStore
	txManager TransactionManager
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
	config    config.SyncConfig
	now       func() time.Time

	mu            sync.Mutex
	state         domain.SessionState
	pageCompleted int
	maxPage       int

	background sync.WaitGroup
}

func NewSyncService(
	remote RemoteClient,
	entries EntryStore,
	tags TagStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	publisher Publisher,
	metrics Metrics,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &SyncService{
		remote:        remote,
		entries:       entries,
		tags:          tags,
		syncState:     syncState,
		txManager:     txManager,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger.With("source", remote.ID()),
		config:        cfg,
		now:           time.Now,
		state:         domain.StateIdle,
		pageCompleted: 1,
	}
}

// State reports whether a pass is running.
func (s *SyncService) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the number of pages merged so far and the page count of
// the running pass. maxPage is 0 until page 1 has been fetched.
func (s *SyncService) Progress() (pageCompleted, maxPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCompleted, s.maxPage
}

func (s *SyncService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateRunning {
		return false
	}
	s.state = domain.StateRunning
	s.pageCompleted = 1
	s.maxPage = 0
	return true
}

func (s *SyncService) end() domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := domain.Event{State: domain.EventFinished, PageCompleted: s.pageCompleted, MaxPage: s.maxPage}
	s.state = domain.StateIdle
	s.pageCompleted = 1
	return ev
}

func (s *SyncService) setMaxPage(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPage = n
}

func (s *SyncService) progress(state domain.EventState, completed bool) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if completed {
		s.pageCompleted++
	}
	return domain.Event{State: state, PageCompleted: s.pageCompleted, MaxPage: s.maxPage}
}

// Sync runs a full pass: page 1 inline, the remaining pages on the worker
// pool, then purge of the entries the server no longer lists. onEvent gets
// Running for page 1 and every later page, Error at most once when the
// server rejects the credentials, and Finished exactly once as the last
// event. If a pass is already running Sync returns domain.ErrSyncInProgress
// without emitting anything.
func (s *SyncService) Sync(ctx context.Context, onEvent func(domain.Event)) (*domain.SyncStats, error) {
	if !s.begin() {
		return nil, domain.ErrSyncInProgress
	}

	startTime := time.Now()
	s.metrics.PassStarted()
	s.logger.Info("starting sync",
		"source_name", s.remote.Name(),
		"workers", s.config.Workers,
	)

	p := newPass(s.remote.ID(), onEvent)

	s.fetchAll(ctx, p)

	// Every page task has returned at this point.
	s.purge(ctx, p)
	s.updateSyncState(ctx, p)

	stats := p.result()
	stats.Duration = time.Since(startTime)
	err := errors.Join(p.errs...)

	// Before end(): once the state is Idle a new pass may already own the gauge.
	s.metrics.PassFinished(p.outcome(), stats.Duration)
	p.emit(s.end())

	s.logger.Info("sync completed",
		"pages", stats.Pages,
		"pages_failed", stats.PagesFailed,
		"new", stats.New,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"skipped", stats.Skipped,
		"pushed", stats.Pushed,
		"push_failed", stats.PushFailed,
		"purged", stats.Purged,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, err
}

func (s *SyncService) purge(ctx context.Context, p *pass) {
	keep := p.synced.slice()
	if len(keep) == 0 {
		return
	}

	if p.isPartial() && !s.config.PurgeOnPartialFailure {
		s.logger.Warn("skipping purge, pass did not see every page",
			"synced", len(keep),
		)
		return
	}

	var deleted []int64
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		deleted, err = s.entries.DeleteNotIn(txCtx, keep)
		return err
	})
	if err != nil {
		p.fail(fmt.Errorf("purge: %w", err))
		return
	}

	s.metrics.Purged(len(deleted))
	p.update(func(st *domain.SyncStats) { st.Purged = len(deleted) })

	if len(deleted) > 0 {
		s.logger.Info("purged entries", "count", len(deleted))
	}

	s.publish(ctx, p, lo.Map(deleted, func(id int64, _ int) domain.EntryChange {
		return domain.EntryChange{Action: domain.ActionDelete, EntryID: id}
	}))
}

func (s *SyncService) updateSyncState(ctx context.Context, p *pass) {
	stats := p.result()
	if stats.Pages == 0 {
		return
	}

	state, err := s.syncState.Get(ctx, s.remote.ID())
	if err != nil {
		p.fail(fmt.Errorf("get sync state: %w", err))
		return
	}

	_, maxPage := s.Progress()
	state.SourceID = s.remote.ID()
	state.LastSyncedAt = s.now().UTC()
	state.LastMaxPage = maxPage
	state.LastPurged = int64(stats.Purged)
	state.TotalSynced += int64(stats.New + stats.Updated)

	if err := s.syncState.Update(ctx, state); err != nil {
		p.fail(fmt.Errorf("update sync state: %w", err))
	}
}

func (s *SyncService) publish(ctx context.Context, p *pass, changes []domain.EntryChange) {
	if s.publisher == nil {
		return
	}

	for _, change := range changes {
		if err := s.publisher.Publish(ctx, change); err != nil {
			s.logger.Warn("failed to publish entry change",
				"entry_id", change.EntryID,
				"action", change.Action,
				"error", err,
			)
			if p != nil {
				p.update(func(st *domain.SyncStats) { st.Errors++ })
			}
			continue
		}
		if p != nil {
			p.update(func(st *domain.SyncStats) { st.Published++ })
		}
	}
}

// pass is the state of a single Sync call, shared by its page tasks.
type pass struct {
	onEvent func(domain.Event)
	emitMu  sync.Mutex

	synced *idSet

	mu      sync.Mutex
	stats   domain.SyncStats
	errs    []error
	partial bool
	authErr bool
}

func newPass(sourceID string, onEvent func(domain.Event)) *pass {
	if onEvent == nil {
		onEvent = func(domain.Event) {}
	}
	return &pass{
		onEvent: onEvent,
		synced:  newIDSet(),
		stats:   domain.SyncStats{SourceID: sourceID},
	}
}

// emit delivers events one at a time.
func (p *pass) emit(ev domain.Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.onEvent(ev)
}

// emitWith computes the event under the emit lock so that concurrently
// completing pages are reported in counter order.
func (p *pass) emitWith(next func() domain.Event) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.onEvent(next())
}

func (p *pass) update(fn func(*domain.SyncStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}

func (p *pass) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	p.stats.Errors++
}

func (p *pass) failAuth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	p.authErr = true
	p.partial = true
}

func (p *pass) markPartial() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial = true
}

func (p *pass) isPartial() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.partial
}

func (p *pass) result() *domain.SyncStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	return &stats
}

func (p *pass) outcome() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.authErr || len(p.errs) > 0:
		return "error"
	case p.partial:
		return "partial"
	default:
		return "success"
	}
}

// idSet collects the ids seen by a pass. Page tasks add to it concurrently.
type idSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[int64]struct{})}
}

func (s *idSet) add(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *idSet) slice() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Keys(s.ids)
	slices.Sort(out)
	return out
}
