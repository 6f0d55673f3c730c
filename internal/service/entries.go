package service

import (
	"context"
	"fmt"
	"time"

	"wallabag_syncer/internal/domain"
)

// Add asks the server to save url and stores the entry it returns.
func (s *SyncService) Add(ctx context.Context, url string) (*domain.Entry, error) {
	remote, err := s.remote.CreateEntry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}

	entry := remote.ToEntry()
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.save(txCtx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("store entry %d: %w", entry.ID, err)
	}

	s.logger.Info("added entry", "entry_id", entry.ID, "url", entry.URL)
	s.publish(ctx, nil, []domain.EntryChange{{Action: domain.ActionCreate, EntryID: entry.ID, Entry: entry}})

	return entry, nil
}

// Delete removes an entry locally. When callServer is set the server is told
// in the background; the local delete does not wait for it.
func (s *SyncService) Delete(ctx context.Context, id int64, callServer bool) error {
	if callServer {
		s.background.Add(1)
		go func() {
			defer s.background.Done()

			remoteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
			defer cancel()

			if err := s.remote.DeleteEntry(remoteCtx, id); err != nil {
				s.logger.Warn("failed to delete entry on server", "entry_id", id, "error", err)
			}
		}()
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.entries.Delete(txCtx, id)
	})
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}

	s.logger.Info("deleted entry", "entry_id", id, "call_server", callServer)
	s.publish(ctx, nil, []domain.EntryChange{{Action: domain.ActionDelete, EntryID: id}})

	return nil
}

// SetArchived changes the archived flag locally. The change reaches the
// server on the next pass.
func (s *SyncService) SetArchived(ctx context.Context, id int64, archived bool) error {
	return s.setFlags(ctx, id, func(e *domain.Entry) { e.IsArchived = archived })
}

// SetStarred changes the starred flag locally. The change reaches the
// server on the next pass.
func (s *SyncService) SetStarred(ctx context.Context, id int64, starred bool) error {
	return s.setFlags(ctx, id, func(e *domain.Entry) { e.IsStarred = starred })
}

func (s *SyncService) setFlags(ctx context.Context, id int64, mutate func(*domain.Entry)) error {
	var entry *domain.Entry

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		entry, err = s.entries.Get(txCtx, id)
		if err != nil {
			return err
		}

		mutate(entry)
		// Bumping the version makes the next pass see the local copy as ahead.
		entry.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)

		return s.entries.SetFlags(txCtx, id, entry.IsArchived, entry.IsStarred, entry.UpdatedAt)
	})
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}

	s.publish(ctx, nil, []domain.EntryChange{{Action: domain.ActionUpdate, EntryID: id, Entry: entry}})
	return nil
}

// Wait blocks until background server calls made by Delete have returned.
func (s *SyncService) Wait() {
	s.background.Wait()
}
