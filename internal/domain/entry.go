package domain

import "time"

type Entry struct {
	ID             int64
	Title          string
	Content        string
	DomainName     string
	URL            string
	Mimetype       string
	Language       string
	PreviewPicture *string
	ReadingTime    int
	IsArchived     bool
	IsStarred      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tags           []Tag
	UserEmail      string
	UserID         int64
	UserName       string
}

type Tag struct {
	ID    int64  `db:"id"`
	Label string `db:"label"`
	Slug  string `db:"slug"`
}

// RemoteEntry is the server's view of an entry. It is only used to decide
// the merge direction and is always translated into an Entry before it is
// stored.
type RemoteEntry struct {
	ID             int64
	Title          string
	Content        string
	DomainName     string
	URL            string
	Mimetype       string
	Language       string
	PreviewPicture *string
	ReadingTime    int
	IsArchived     bool
	IsStarred      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Tags           []Tag
	UserEmail      string
	UserID         int64
	UserName       string
}

// Hydrate overwrites every field of e with the remote values.
func (r *RemoteEntry) Hydrate(e *Entry) {
	e.ID = r.ID
	e.Title = r.Title
	e.Content = r.Content
	e.DomainName = r.DomainName
	e.URL = r.URL
	e.Mimetype = r.Mimetype
	e.Language = r.Language
	e.PreviewPicture = r.PreviewPicture
	e.ReadingTime = r.ReadingTime
	e.IsArchived = r.IsArchived
	e.IsStarred = r.IsStarred
	e.CreatedAt = r.CreatedAt
	e.UpdatedAt = r.UpdatedAt
	e.Tags = append([]Tag(nil), r.Tags...)
	e.UserEmail = r.UserEmail
	e.UserID = r.UserID
	e.UserName = r.UserName
}

// ToEntry returns a freshly hydrated Entry.
func (r *RemoteEntry) ToEntry() *Entry {
	var e Entry
	r.Hydrate(&e)
	return &e
}

// EntryPage is one page of the remote entry listing.
type EntryPage struct {
	Items []RemoteEntry
	// Skipped holds the ids of listed entries that could not be decoded.
	Skipped    []int64
	Page       int
	TotalPages int
	Total      int
}

// EntryUpdate carries the flags pushed to the server when the local copy is
// ahead of it.
type EntryUpdate struct {
	Archived bool
	Starred  bool
}
