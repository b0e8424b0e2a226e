package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"KURA-backend/internal/platform/db"
)

type Account struct {
	ID           string    `db:"id"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	StructureID  int64     `db:"structure_id"`
	IsDisabled   bool      `db:"is_disabled"`
	CreatedAt    time.Time `db:"created_at"`
}

type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id string) (int64, error)
	UpdateMembership(ctx context.Context, id, role string, structureID int64) (int64, error)
}

type Store struct{ db *sqlx.DB }

func NewStore(conn *sqlx.DB) AccountStore {
	return &Store{db: conn}
}

func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	const q = `
SELECT id, password_hash, role, structure_id, is_disabled, created_at
FROM auth_accounts
WHERE id = ?
LIMIT 1
`
	var a Account
	err := s.db.GetContext(ctx, &a, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO auth_accounts (id, password_hash, role, structure_id, is_disabled, created_at)
VALUES (?, ?, ?, ?, 0, NOW(6))
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.PasswordHash, a.Role, a.StructureID)
	switch {
	case db.IsDuplicateKey(err):
		return ErrAlreadyExists
	case db.IsForeignKey(err):
		return ErrUnknownStructure
	}
	return err
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	const q = `DELETE FROM auth_accounts WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateMembership はロールと所属組織を差し替える
func (s *Store) UpdateMembership(ctx context.Context, id, role string, structureID int64) (int64, error) {
	const q = `UPDATE auth_accounts SET role = ?, structure_id = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, role, structureID, id)
	if db.IsForeignKey(err) {
		return 0, ErrUnknownStructure
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
