package domain

import "time"

// SyncStats holds statistics about a sync operation.
type SyncStats struct {
	SourceID    string
	Pages       int
	PagesFailed int
	Fetched     int
	New         int
	Updated     int
	Unchanged   int
	Skipped     int
	Pushed      int
	PushFailed  int
	Purged      int
	Errors      int
	Published   int
	Duration    time.Duration
}

type SyncState struct {
	ID           int64     `db:"id"`
	SourceID     string    `db:"source_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	LastMaxPage  int       `db:"last_max_page"`
	LastPurged   int64     `db:"last_purged"`
	TotalSynced  int64     `db:"total_synced"`
}

// SessionState is the stored state of the sync engine.
type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// EventState is what an observer of a sync pass is told.
type EventState int

const (
	EventRunning EventState = iota
	EventError
	EventFinished
)

func (s EventState) String() string {
	switch s {
	case EventRunning:
		return "running"
	case EventError:
		return "error"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is delivered to the observer passed to Sync. PageCompleted grows
// monotonically within a pass; pages may complete in any order.
type Event struct {
	State         EventState
	PageCompleted int
	MaxPage       int
}
