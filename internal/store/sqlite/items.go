package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
)

func (s *Store) Insert(ctx context.Context, it *domain.Item) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Owner, string(it.Kind), it.Content, it.Fingerprint, it.Group,
		it.Search, it.Subtype, it.Width, it.Height, it.FileName, it.Count,
		boolInt(it.Favorite), nullNote(it.Note), it.OriginDevice, it.OriginDeviceName,
		micros(it.CreatedAt), micros(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert %s: %w", it.ID, classify(err))
	}
	return nil
}

func (s *Store) getWhere(ctx context.Context, what, where string, args ...any) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where, args...)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (*domain.Item, error) {
	return s.getWhere(ctx, "item "+id, "owner = ? AND id = ?", owner, id)
}

func (s *Store) FindByFingerprint(ctx context.Context, owner, fingerprint string) (*domain.Item, error) {
	return s.getWhere(ctx, "fingerprint "+fingerprint, "owner = ? AND fingerprint = ?", owner, fingerprint)
}

func (s *Store) Touch(ctx context.Context, owner, id string, at time.Time) (*domain.Item, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET created_at = ?, updated_at = ? WHERE owner = ? AND id = ?`,
		micros(at), micros(at), owner, id)
	if err := checkAffected(res, err, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, owner, id)
}

func (s *Store) SaveMeta(ctx context.Context, it *domain.Item) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET favorite = ?, count = ?, note = ?, updated_at = ? WHERE owner = ? AND id = ?`,
		boolInt(it.Favorite), it.Count, nullNote(it.Note), micros(it.UpdatedAt), it.Owner, it.ID)
	return checkAffected(res, err, it.ID)
}

func checkAffected(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// deleteWhere selects then deletes matching rows in one transaction.
func (s *Store) deleteWhere(ctx context.Context, where string, args ...any) ([]*domain.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where+
		` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	removed, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("failed to delete items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return removed, nil
}

func (s *Store) Delete(ctx context.Context, owner string, ids []string) ([]*domain.Item, error) {
	if len(ids) == 0 {
		return []*domain.Item{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, owner)
	for _, id := range ids {
		args = append(args, id)
	}
	return s.deleteWhere(ctx, "owner = ? AND id IN ("+placeholders(len(ids))+")", args...)
}

func (s *Store) DeleteAll(ctx context.Context, owner string) ([]*domain.Item, error) {
	return s.deleteWhere(ctx, "owner = ?", owner)
}

func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE owner = ?`, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// TrimTo selects and deletes the surplus with the same predicate inside one
// transaction.
func (s *Store) TrimTo(ctx context.Context, owner string, keep int) ([]*domain.Item, error) {
	return s.deleteWhere(ctx, `owner = ? AND id NOT IN (
		SELECT id FROM items WHERE owner = ? ORDER BY created_at DESC, id DESC LIMIT ?)`,
		owner, owner, max(keep, 0))
}

func (s *Store) Range(ctx context.Context, owner string, q store.RangeQuery) ([]*domain.Item, int, error) {
	where := "owner = ? AND created_at > ?"
	after := int64(-1 << 62)
	if !q.After.IsZero() {
		after = micros(q.After)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE `+where, owner, after).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count range: %w", err)
	}

	order := "created_at ASC, id ASC"
	if q.Newest {
		order = "created_at DESC, id DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where+
		` ORDER BY `+order+` LIMIT ? OFFSET ?`, owner, after, limit, max(q.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read range: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) Owners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner FROM items ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}
