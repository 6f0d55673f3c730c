package service

import "time"

// Resolution is the merge direction chosen for an entry present on both sides.
type Resolution int

const (
	// ResolutionNone means both sides carry the same version.
	ResolutionNone Resolution = iota
	// ResolutionPull means the server copy overwrites the local one.
	ResolutionPull
	// ResolutionPush means the local copy is ahead and is sent to the server.
	ResolutionPush
)

func (r Resolution) String() string {
	switch r {
	case ResolutionNone:
		return "none"
	case ResolutionPull:
		return "pull"
	case ResolutionPush:
		return "push"
	default:
		return "unknown"
	}
}

// Resolve compares the version markers of the local and remote copies of an
// entry. Last write wins on a single timestamp: two local writers racing on
// the same entry cannot be told apart.
func Resolve(localUpdatedAt, remoteUpdatedAt time.Time) Resolution {
	switch {
	case remoteUpdatedAt.Equal(localUpdatedAt):
		return ResolutionNone
	case remoteUpdatedAt.After(localUpdatedAt):
		return ResolutionPull
	default:
		return ResolutionPush
	}
}
