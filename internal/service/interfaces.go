package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"wallabag_syncer/internal/domain"
)

// RemoteClient is the wallabag API as seen by the sync engine.
type RemoteClient interface {
	ID() string
	Name() string
	ListEntries(ctx context.Context, page int) (*domain.EntryPage, error)
	UpdateEntry(ctx context.Context, id int64, update domain.EntryUpdate) (*domain.RemoteEntry, error)
	DeleteEntry(ctx context.Context, id int64) error
	CreateEntry(ctx context.Context, url string) (*domain.RemoteEntry, error)
}

type EntryStore interface {
	Get(ctx context.Context, id int64) (*domain.Entry, error)
	Upsert(ctx context.Context, entry *domain.Entry) error
	Delete(ctx context.Context, id int64) error
	DeleteNotIn(ctx context.Context, keep []int64) ([]int64, error)
	SetUpdatedAt(ctx context.Context, id int64, updatedAt time.Time) error
	SetFlags(ctx context.Context, id int64, archived, starred bool, updatedAt time.Time) error
}

type TagStore interface {
	UpsertBatch(ctx context.Context, tags []domain.Tag) error
	LinkToEntry(ctx context.Context, entryID int64, tagIDs []int64) error
}

type SyncStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, change domain.EntryChange) error
	Close() error
}

type Metrics interface {
	PageFetched(ok bool)
	EntriesMerged(result string, n int)
	Pushed(ok bool)
	Purged(n int)
	PassStarted()
	PassFinished(outcome string, d time.Duration)
}
