package postgres

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"wallabag_syncer/internal/domain"
)

type TagStore struct {
	db *sqlx.DB
}

func NewTagStore(db *sqlx.DB) *TagStore {
	return &TagStore{db: db}
}

// UpsertBatch inserts or relabels tags. Duplicate ids are collapsed because
// Postgres refuses to update the same row twice in one statement. Rows are
// written in id order so concurrent page transactions lock tags in the same
// order.
func (s *TagStore) UpsertBatch(ctx context.Context, tags []domain.Tag) error {
	tags = lo.UniqBy(tags, func(t domain.Tag) int64 { return t.ID })
	if len(tags) == 0 {
		return nil
	}
	slices.SortFunc(tags, func(a, b domain.Tag) int { return cmp.Compare(a.ID, b.ID) })

	var sb strings.Builder
	sb.WriteString("INSERT INTO tags (id, label, slug) VALUES ")
	valueArgs := make([]any, 0, len(tags)*3)

	for i, tag := range tags {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($" + strconv.Itoa(i*3+1))
		sb.WriteString(", $" + strconv.Itoa(i*3+2))
		sb.WriteString(", $" + strconv.Itoa(i*3+3) + ")")
		valueArgs = append(valueArgs, tag.ID, tag.Label, tag.Slug)
	}
	sb.WriteString(" ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, slug = EXCLUDED.slug")

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

// LinkToEntry replaces the tag set of an entry.
func (s *TagStore) LinkToEntry(ctx context.Context, entryID int64, tagIDs []int64) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx, "DELETE FROM entry_tags WHERE entry_id = $1", entryID)
	if err != nil {
		return err
	}

	tagIDs = lo.Uniq(tagIDs)
	if len(tagIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO entry_tags (entry_id, tag_id) VALUES ")
	valueArgs := make([]any, 0, len(tagIDs)+1)
	valueArgs = append(valueArgs, entryID)

	for i, tagID := range tagIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $" + strconv.Itoa(i+2) + ")")
		valueArgs = append(valueArgs, tagID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *TagStore) GetByEntryID(ctx context.Context, entryID int64) ([]domain.Tag, error) {
	query := `
		SELECT t.id, t.label, t.slug
		FROM tags t
		INNER JOIN entry_tags et ON et.tag_id = t.id
		WHERE et.entry_id = $1
		ORDER BY t.id`

	var tags []domain.Tag
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tags, query, entryID)
	return tags, err
}
