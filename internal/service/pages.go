package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"wallabag_syncer/internal/domain"
)

const (
	mergeNew       = "new"
	mergeUpdated   = "updated"
	mergeUnchanged = "unchanged"
	mergePush      = "push"
)

// fetchAll fetches and merges page 1, then fans out the remaining pages on a
// bounded pool and returns once every page task has finished.
func (s *SyncService) fetchAll(ctx context.Context, p *pass) {
	first, err := s.remote.ListEntries(ctx, 1)
	s.metrics.PageFetched(err == nil)
	if err != nil {
		p.update(func(st *domain.SyncStats) { st.PagesFailed++ })

		if errors.Is(err, domain.ErrInvalidAuth) {
			s.logger.Error("server rejected credentials", "error", err)
			p.failAuth(fmt.Errorf("fetch page 1: %w", err))
			p.emit(s.progress(domain.EventError, false))
			return
		}

		s.logger.Warn("failed to fetch first page", "error", err)
		p.markPartial()
		return
	}

	maxPage := max(first.TotalPages, 1)
	s.setMaxPage(maxPage)

	s.processPage(ctx, p, 1, first)
	p.emit(s.progress(domain.EventRunning, false))

	if maxPage == 1 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(s.config.Workers)

	for page := 2; page <= maxPage; page++ {
		g.Go(func() error {
			s.fetchPage(ctx, p, page)
			p.emitWith(func() domain.Event {
				return s.progress(domain.EventRunning, true)
			})
			return nil
		})
	}

	_ = g.Wait()
}

// fetchPage never fails the pass: a page that cannot be fetched is logged
// and left out of the merge.
func (s *SyncService) fetchPage(ctx context.Context, p *pass, page int) {
	if err := ctx.Err(); err != nil {
		s.logger.Warn("skipping page", "page", page, "error", err)
		p.update(func(st *domain.SyncStats) { st.PagesFailed++ })
		p.markPartial()
		return
	}

	result, err := s.remote.ListEntries(ctx, page)
	s.metrics.PageFetched(err == nil)
	if err != nil {
		s.logger.Warn("failed to fetch page", "page", page, "error", err)
		p.update(func(st *domain.SyncStats) { st.PagesFailed++ })
		p.markPartial()
		return
	}

	s.processPage(ctx, p, page, result)
}

type pageResult struct {
	counts  map[string]int
	toPush  []*domain.Entry
	changes []domain.EntryChange
}

// processPage merges a page in one transaction, then pushes the entries the
// local side is ahead on. Network calls never run inside the transaction.
func (s *SyncService) processPage(ctx context.Context, p *pass, page int, entries *domain.EntryPage) {
	if len(entries.Skipped) > 0 {
		// Still listed by the server, so they must survive the purge.
		p.synced.add(entries.Skipped...)
		p.update(func(st *domain.SyncStats) { st.Skipped += len(entries.Skipped) })
		s.logger.Warn("entries skipped", "page", page, "ids", entries.Skipped)
	}

	var res pageResult

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		res = pageResult{counts: make(map[string]int)}

		for i := range entries.Items {
			remote := &entries.Items[i]
			p.synced.add(remote.ID)

			if err := s.mergeEntry(txCtx, remote, &res); err != nil {
				return fmt.Errorf("entry %d: %w", remote.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to merge page", "page", page, "error", err)
		p.update(func(st *domain.SyncStats) { st.PagesFailed++ })
		p.markPartial()
		p.fail(fmt.Errorf("merge page %d: %w", page, err))
		return
	}

	for result, n := range res.counts {
		s.metrics.EntriesMerged(result, n)
	}

	p.update(func(st *domain.SyncStats) {
		st.Pages++
		st.Fetched += len(entries.Items)
		st.New += res.counts[mergeNew]
		st.Updated += res.counts[mergeUpdated]
		st.Unchanged += res.counts[mergeUnchanged]
	})

	s.logger.Debug("merged page",
		"page", page,
		"entries", len(entries.Items),
		"new", res.counts[mergeNew],
		"updated", res.counts[mergeUpdated],
		"push", len(res.toPush),
	)

	s.publish(ctx, p, res.changes)

	for _, entry := range res.toPush {
		s.push(ctx, p, entry)
	}
}

func (s *SyncService) mergeEntry(ctx context.Context, remote *domain.RemoteEntry, res *pageResult) error {
	local, err := s.entries.Get(ctx, remote.ID)
	if errors.Is(err, domain.ErrNotFound) {
		entry := remote.ToEntry()
		if err := s.save(ctx, entry); err != nil {
			return err
		}
		res.counts[mergeNew]++
		res.changes = append(res.changes, domain.EntryChange{Action: domain.ActionCreate, EntryID: entry.ID, Entry: entry})
		return nil
	}
	if err != nil {
		return fmt.Errorf("get local entry: %w", err)
	}

	switch Resolve(local.UpdatedAt, remote.UpdatedAt) {
	case ResolutionNone:
		res.counts[mergeUnchanged]++
	case ResolutionPull:
		remote.Hydrate(local)
		if err := s.save(ctx, local); err != nil {
			return err
		}
		res.counts[mergeUpdated]++
		res.changes = append(res.changes, domain.EntryChange{Action: domain.ActionUpdate, EntryID: local.ID, Entry: local})
	case ResolutionPush:
		res.counts[mergePush]++
		res.toPush = append(res.toPush, local)
	}
	return nil
}

func (s *SyncService) save(ctx context.Context, entry *domain.Entry) error {
	if err := s.entries.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	if len(entry.Tags) > 0 {
		if err := s.tags.UpsertBatch(ctx, entry.Tags); err != nil {
			return fmt.Errorf("upsert tags: %w", err)
		}
	}

	tagIDs := lo.Map(entry.Tags, func(t domain.Tag, _ int) int64 { return t.ID })
	if err := s.tags.LinkToEntry(ctx, entry.ID, tagIDs); err != nil {
		return fmt.Errorf("link tags: %w", err)
	}

	return nil
}

// push sends the local flags to the server. A failed push is dropped; the
// next pass finds the local copy still ahead and tries again. On success
// only updated_at is taken from the server's answer.
func (s *SyncService) push(ctx context.Context, p *pass, entry *domain.Entry) {
	remote, err := s.remote.UpdateEntry(ctx, entry.ID, domain.EntryUpdate{
		Archived: entry.IsArchived,
		Starred:  entry.IsStarred,
	})
	if err != nil {
		s.metrics.Pushed(false)
		s.logger.Warn("failed to push entry", "entry_id", entry.ID, "error", err)
		p.update(func(st *domain.SyncStats) { st.PushFailed++ })
		return
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.entries.SetUpdatedAt(txCtx, entry.ID, remote.UpdatedAt)
	})
	if err != nil {
		s.metrics.Pushed(false)
		p.fail(fmt.Errorf("acknowledge push of entry %d: %w", entry.ID, err))
		return
	}

	s.metrics.Pushed(true)
	p.update(func(st *domain.SyncStats) { st.Pushed++ })
	s.logger.Debug("pushed entry", "entry_id", entry.ID, "updated_at", remote.UpdatedAt)
}
