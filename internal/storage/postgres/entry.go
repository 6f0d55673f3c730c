package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"wallabag_syncer/internal/domain"
)

type EntryStore struct {
	db *sqlx.DB
}

func NewEntryStore(db *sqlx.DB) *EntryStore {
	return &EntryStore{db: db}
}

type entryRow struct {
	ID             int64          `db:"id"`
	Title          string         `db:"title"`
	Content        string         `db:"content"`
	DomainName     string         `db:"domain_name"`
	URL            string         `db:"url"`
	Mimetype       string         `db:"mimetype"`
	Language       string         `db:"language"`
	PreviewPicture sql.NullString `db:"preview_picture"`
	ReadingTime    int            `db:"reading_time"`
	IsArchived     bool           `db:"is_archived"`
	IsStarred      bool           `db:"is_starred"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	UserEmail      string         `db:"user_email"`
	UserID         int64          `db:"user_id"`
	UserName       string         `db:"user_name"`
}

func (r *entryRow) toDomain() *domain.Entry {
	e := &domain.Entry{
		ID:          r.ID,
		Title:       r.Title,
		Content:     r.Content,
		DomainName:  r.DomainName,
		URL:         r.URL,
		Mimetype:    r.Mimetype,
		Language:    r.Language,
		ReadingTime: r.ReadingTime,
		IsArchived:  r.IsArchived,
		IsStarred:   r.IsStarred,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		UserEmail:   r.UserEmail,
		UserID:      r.UserID,
		UserName:    r.UserName,
	}
	if r.PreviewPicture.Valid {
		pic := r.PreviewPicture.String
		e.PreviewPicture = &pic
	}
	return e
}

// Get returns the entry without its tags, or domain.ErrNotFound.
func (s *EntryStore) Get(ctx context.Context, id int64) (*domain.Entry, error) {
	query := `
		SELECT id, title, content, domain_name, url, mimetype, language, preview_picture,
			reading_time, is_archived, is_starred, created_at, updated_at,
			user_email, user_id, user_name
		FROM entries
		WHERE id = $1`

	var row entryRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return row.toDomain(), nil
}

// Upsert writes every column of the entry. Conflict resolution happens before
// this is called, so an existing row is always overwritten.
func (s *EntryStore) Upsert(ctx context.Context, entry *domain.Entry) error {
	query := `
		INSERT INTO entries (
			id, title, content, domain_name, url, mimetype, language, preview_picture,
			reading_time, is_archived, is_starred, created_at, updated_at,
			user_email, user_id, user_name, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			domain_name = EXCLUDED.domain_name,
			url = EXCLUDED.url,
			mimetype = EXCLUDED.mimetype,
			language = EXCLUDED.language,
			preview_picture = EXCLUDED.preview_picture,
			reading_time = EXCLUDED.reading_time,
			is_archived = EXCLUDED.is_archived,
			is_starred = EXCLUDED.is_starred,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			user_email = EXCLUDED.user_email,
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			synced_at = EXCLUDED.synced_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.ID,
		entry.Title,
		entry.Content,
		entry.DomainName,
		entry.URL,
		entry.Mimetype,
		entry.Language,
		entry.PreviewPicture,
		entry.ReadingTime,
		entry.IsArchived,
		entry.IsStarred,
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.UserEmail,
		entry.UserID,
		entry.UserName,
	)
	return err
}

func (s *EntryStore) Delete(ctx context.Context, id int64) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, "DELETE FROM entries WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteNotIn removes every entry whose id is not in keep and returns the
// removed ids.
func (s *EntryStore) DeleteNotIn(ctx context.Context, keep []int64) ([]int64, error) {
	if keep == nil {
		keep = []int64{}
	}

	var deleted []int64
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &deleted,
		"DELETE FROM entries WHERE NOT (id = ANY($1)) RETURNING id",
		pq.Array(keep),
	)
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *EntryStore) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &ids, "SELECT id FROM entries ORDER BY id")
	return ids, err
}

// SetUpdatedAt records the version acknowledged by the server after a push.
func (s *EntryStore) SetUpdatedAt(ctx context.Context, id int64, updatedAt time.Time) error {
	return s.exec(ctx, "UPDATE entries SET updated_at = $2 WHERE id = $1", id, updatedAt)
}

// SetFlags stores a local archive/star change.
func (s *EntryStore) SetFlags(ctx context.Context, id int64, archived, starred bool, updatedAt time.Time) error {
	return s.exec(ctx,
		"UPDATE entries SET is_archived = $2, is_starred = $3, updated_at = $4 WHERE id = $1",
		id, archived, starred, updatedAt,
	)
}

func (s *EntryStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
