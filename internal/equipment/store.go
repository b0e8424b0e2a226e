package equipment

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"KURA-backend/internal/loans"
	"KURA-backend/internal/platform/db"
)

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

const equipmentColumns = `equipment_id, name, type, total_qty, structure_id, created_at, updated_at`

func (s *Store) Insert(ctx context.Context, e *Equipment) (int64, error) {
	const q = `
		INSERT INTO equipment (name, type, total_qty, structure_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(3), NOW(3))
	`
	res, err := s.db.ExecContext(ctx, q, e.Name, e.Type, e.TotalQty, e.StructureID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// 無ければ (nil, nil)
func (s *Store) GetByID(ctx context.Context, id int64) (*Equipment, error) {
	q := `SELECT ` + equipmentColumns + ` FROM equipment WHERE equipment_id = ?`
	var e Equipment
	if err := s.db.GetContext(ctx, &e, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Modify は機材行を FOR UPDATE でロックし、在庫を占有している予約と一緒に fn に渡す。
// fn が nil を返せば e の内容を保存する。行が無ければ (false, nil)
func (s *Store) Modify(ctx context.Context, id int64, fn func(e *Equipment, held []Reservation) error) (bool, error) {
	found := false
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	err := db.RunInTx(ctx, s.db, opts, func(ctx context.Context, tx db.DBTX) error {
		var e Equipment
		q := `SELECT ` + equipmentColumns + ` FROM equipment WHERE equipment_id = ? FOR UPDATE`
		if err := tx.GetContext(ctx, &e, q, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true

		const heldQ = `
			SELECT l.start_date, l.end_date, li.quantity
			FROM loan_items li
			JOIN loan_requests l ON l.loan_id = li.loan_id
			WHERE li.equipment_id = ?
			  AND l.status IN (?, ?)
			  AND l.archived = 0
		`
		held := []Reservation{}
		if err := tx.SelectContext(ctx, &held, heldQ, id, string(loans.StatusPending), string(loans.StatusAccepted)); err != nil {
			return err
		}
		if err := fn(&e, held); err != nil {
			return err
		}

		const upd = `
			UPDATE equipment
			SET name = ?, type = ?, total_qty = ?, updated_at = NOW(3)
			WHERE equipment_id = ?
		`
		_, err := tx.ExecContext(ctx, upd, e.Name, e.Type, e.TotalQty, e.ID)
		return err
	})
	return found, err
}

func (s *Store) List(ctx context.Context, q EquipmentQuery, p Page) ([]Equipment, int64, error) {
	// --- WHERE句の組み立て（件数取得と共通） ---
	var where strings.Builder
	args := []any{}
	where.WriteString(" WHERE 1=1")
	if q.StructureID != nil {
		where.WriteString(" AND structure_id = ?")
		args = append(args, *q.StructureID)
	}
	if q.Type != nil {
		where.WriteString(" AND type = ?")
		args = append(args, *q.Type)
	}
	if q.Name != nil && *q.Name != "" {
		where.WriteString(" AND name LIKE ?")
		args = append(args, "%"+*q.Name+"%")
	}

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	query := `SELECT ` + equipmentColumns + ` FROM equipment` + where.String() +
		` ORDER BY equipment_id ` + order + ` LIMIT ? OFFSET ?`
	list := []Equipment{}
	if err := s.db.SelectContext(ctx, &list, query, append(args, p.Limit, p.Offset)...); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM equipment`+where.String(), args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
