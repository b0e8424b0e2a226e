package loans

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"KURA-backend/internal/platform/db"
	"KURA-backend/internal/roles"
)

var dialect = goqu.Dialect("mysql")

var _ Store = (*MySQLStore)(nil)

var loanColumns = []any{
	"loan_id", "owner_id", "borrower_id", "requested_by", "processed_by",
	"start_date", "end_date", "status", "decision_note",
	"archived", "archived_at", "created_at", "updated_at",
}

// MySQLStore は Store の MySQL 実装
type MySQLStore struct {
	queries
	conn *sqlx.DB
}

func NewStore(conn *sqlx.DB) *MySQLStore {
	return &MySQLStore{queries: queries{q: conn}, conn: conn}
}

// InTx: READ COMMITTED で実行。デッドロックは db.ErrWriteConflict になる。
// 予約数の集計は機材行のロック取得後に読むので、ロック待ちの間にコミットされた
// 貸出も集計に入る。
func (s *MySQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return db.RunInTx(ctx, s.conn, opts, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, txQueries{queries{q: q}})
	})
}

func (s *MySQLStore) GetLoan(ctx context.Context, id string, historical bool) (*Loan, error) {
	return s.loadLoan(ctx, id, historical, false)
}

func (s *MySQLStore) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	ds := dialect.From("loan_requests").Select(loanColumns...).Prepared(true)
	if !f.Historical {
		ds = ds.Where(goqu.C("archived").Eq(false))
	}
	if f.StructureID != nil {
		switch f.Side {
		case "owner":
			ds = ds.Where(goqu.C("owner_id").Eq(*f.StructureID))
		case "borrower":
			ds = ds.Where(goqu.C("borrower_id").Eq(*f.StructureID))
		default:
			ds = ds.Where(goqu.Or(
				goqu.C("owner_id").Eq(*f.StructureID),
				goqu.C("borrower_id").Eq(*f.StructureID),
			))
		}
	}
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}
	ds = ds.Order(goqu.C("start_date").Desc(), goqu.C("loan_id").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset))

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	var rows []Loan
	if err := s.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Items = items[rows[i].ID]
	}
	return rows, nil
}

func (s *MySQLStore) StructureExists(ctx context.Context, id int64) (bool, error) {
	query, args, err := dialect.From("structures").
		Select(goqu.COUNT("*")).
		Where(goqu.C("structure_id").Eq(id), goqu.C("is_disabled").Eq(false)).
		Prepared(true).ToSQL()
	if err != nil {
		return false, err
	}
	var n int
	if err := s.q.GetContext(ctx, &n, query, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *MySQLStore) ArchiveEndedBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query, args, err := dialect.Update("loan_requests").
		Set(goqu.Record{"archived": true, "archived_at": at}).
		Where(goqu.C("archived").Eq(false), goqu.C("end_date").Lt(cutoff)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== 共通の読み取り =====

type queries struct {
	q db.DBTX
}

func (r queries) GetEquipment(ctx context.Context, id int64) (*Equipment, error) {
	query, args, err := dialect.From("equipment").
		Select("equipment_id", "type", "total_qty", "structure_id", "updated_at").
		Where(goqu.C("equipment_id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	var eq Equipment
	if err := r.q.GetContext(ctx, &eq, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &eq, nil
}

// ReservedQuantity: start < queryEnd AND end > queryStart で重なりを判定する
func (r queries) ReservedQuantity(ctx context.Context, equipmentID int64, span Span) (int, error) {
	query, args, err := dialect.From(goqu.T("loan_items").As("li")).
		Join(goqu.T("loan_requests").As("l"), goqu.On(goqu.I("l.loan_id").Eq(goqu.I("li.loan_id")))).
		Select(goqu.COALESCE(goqu.SUM("li.quantity"), 0).As("reserved")).
		Where(
			goqu.I("li.equipment_id").Eq(equipmentID),
			goqu.I("l.status").NotIn(string(StatusRefused), string(StatusCancelled)),
			goqu.I("l.archived").Eq(false),
			goqu.I("l.start_date").Lt(span.End),
			goqu.I("l.end_date").Gt(span.Start),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	var reserved int
	if err := r.q.GetContext(ctx, &reserved, query, args...); err != nil {
		return 0, err
	}
	return reserved, nil
}

func (r queries) loadLoan(ctx context.Context, id string, historical, forUpdate bool) (*Loan, error) {
	ds := dialect.From("loan_requests").Select(loanColumns...).
		Where(goqu.C("loan_id").Eq(id)).Prepared(true)
	if !historical {
		ds = ds.Where(goqu.C("archived").Eq(false))
	}
	if forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	var l Loan
	if err := r.q.GetContext(ctx, &l, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("loan not found")
		}
		return nil, err
	}
	items, err := r.loadItems(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	l.Items = items[id]
	return &l, nil
}

type itemRow struct {
	LoanID      string `db:"loan_id"`
	EquipmentID int64  `db:"equipment_id"`
	Quantity    int    `db:"quantity"`
	Type        string `db:"type"`
}

// loadItems は明細を機材種別付きで貸出ごとにまとめて返す
func (r queries) loadItems(ctx context.Context, loanIDs []string) (map[string][]Item, error) {
	query, args, err := dialect.From(goqu.T("loan_items").As("li")).
		Join(goqu.T("equipment").As("e"), goqu.On(goqu.I("e.equipment_id").Eq(goqu.I("li.equipment_id")))).
		Select("li.loan_id", "li.equipment_id", "li.quantity", "e.type").
		Where(goqu.I("li.loan_id").In(loanIDs)).
		Order(goqu.I("li.loan_id").Asc(), goqu.I("li.equipment_id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	var rows []itemRow
	if err := r.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make(map[string][]Item, len(loanIDs))
	for _, row := range rows {
		kind, _ := roles.NormalizeType(row.Type)
		out[row.LoanID] = append(out[row.LoanID], Item{
			LoanID:      row.LoanID,
			EquipmentID: row.EquipmentID,
			Quantity:    row.Quantity,
			Type:        kind,
		})
	}
	return out, nil
}

// ===== トランザクション内の操作 =====

type txQueries struct {
	queries
}

func (t txQueries) LockEquipment(ctx context.Context, ids []int64) (map[int64]Equipment, error) {
	query, args, err := dialect.From("equipment").
		Select("equipment_id", "type", "total_qty", "structure_id", "updated_at").
		Where(goqu.C("equipment_id").In(ids)).
		Order(goqu.C("equipment_id").Asc()).
		ForUpdate(exp.Wait).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	var rows []Equipment
	if err := t.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make(map[int64]Equipment, len(rows))
	for _, eq := range rows {
		out[eq.ID] = eq
	}
	return out, nil
}

func (t txQueries) TouchEquipment(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := dialect.Update("equipment").
		Set(goqu.Record{"updated_at": at}).
		Where(goqu.C("equipment_id").In(ids)).
		Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, query, args...)
	return err
}

func (t txQueries) LockLoan(ctx context.Context, id string) (*Loan, error) {
	return t.loadLoan(ctx, id, false, true)
}

func (t txQueries) InsertLoan(ctx context.Context, l *Loan) error {
	query, args, err := dialect.Insert("loan_requests").Rows(goqu.Record{
		"loan_id":       l.ID,
		"owner_id":      l.OwnerID,
		"borrower_id":   l.BorrowerID,
		"requested_by":  l.RequestedBy,
		"processed_by":  nullStrOrNil(l.ProcessedBy),
		"start_date":    l.StartDate,
		"end_date":      l.EndDate,
		"status":        string(l.Status),
		"decision_note": nullStrOrNil(l.DecisionNote),
		"archived":      false,
		"created_at":    l.CreatedAt,
		"updated_at":    l.UpdatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return mapWriteErr(err)
	}

	rows := make([]any, 0, len(l.Items))
	for _, it := range l.Items {
		rows = append(rows, goqu.Record{
			"loan_id":      l.ID,
			"equipment_id": it.EquipmentID,
			"quantity":     it.Quantity,
		})
	}
	query, args, err = dialect.Insert("loan_items").Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (t txQueries) UpdateLoan(ctx context.Context, l *Loan) error {
	query, args, err := dialect.Update("loan_requests").Set(goqu.Record{
		"status":        string(l.Status),
		"processed_by":  nullStrOrNil(l.ProcessedBy),
		"decision_note": nullStrOrNil(l.DecisionNote),
		"updated_at":    l.UpdatedAt,
	}).Where(goqu.C("loan_id").Eq(l.ID)).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrInternal("failed to update loan")
	}
	return nil
}

func (t txQueries) DeleteLoan(ctx context.Context, id string) error {
	for _, table := range []string{"loan_items", "loan_requests"} {
		query, args, err := dialect.Delete(table).Where(goqu.C("loan_id").Eq(id)).Prepared(true).ToSQL()
		if err != nil {
			return err
		}
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func mapWriteErr(err error) error {
	switch {
	case db.IsForeignKey(err):
		return ErrInvalid("referenced structure or equipment does not exist")
	case db.IsDuplicateKey(err):
		return ErrInternal("duplicate loan id")
	}
	return err
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
