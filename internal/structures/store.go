package structures

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type Store struct{ db *sqlx.DB }

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// GET /structures?all=1
func (s *Store) List(ctx context.Context, includeDisabled bool) ([]Structure, error) {
	q := `
		SELECT structure_id, name, is_disabled, created_at
		FROM structures
	`
	if !includeDisabled {
		q += ` WHERE is_disabled = 0`
	}
	q += ` ORDER BY structure_id`

	res := make([]Structure, 0, 16)
	if err := s.db.SelectContext(ctx, &res, q); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Structure, error) {
	const q = `
		SELECT structure_id, name, is_disabled, created_at
		FROM structures
		WHERE structure_id = ?
	`
	var st Structure
	if err := s.db.GetContext(ctx, &st, q, id); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) Create(ctx context.Context, name string) (int64, error) {
	const q = `INSERT INTO structures (name, is_disabled) VALUES (?, 0)`
	r, err := s.db.ExecContext(ctx, q, name)
	if err != nil {
		return 0, err
	}
	return r.LastInsertId()
}

func (s *Store) Update(ctx context.Context, id int64, name string, disabled bool) error {
	const q = `
		UPDATE structures
		SET name = ?, is_disabled = ?
		WHERE structure_id = ?
	`
	r, err := s.db.ExecContext(ctx, q, name, disabled, id)
	if err != nil {
		return err
	}
	return requireAffected(r)
}

// DELETE: is_disabled=1 にする（貸出履歴が参照しているため物理削除しない）
func (s *Store) Disable(ctx context.Context, id int64) error {
	const q = `UPDATE structures SET is_disabled = 1 WHERE structure_id = ?`
	r, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return requireAffected(r)
}

func requireAffected(r sql.Result) error {
	aff, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return sql.ErrNoRows
	}
	return nil
}
