package loans

import (
	"database/sql"
	"time"

	"KURA-backend/internal/roles"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRefused   Status = "refused"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRefused, StatusCancelled:
		return true
	}
	return false
}

// Closed: 在庫を確保していない状態（終端ではない）
func (s Status) Closed() bool { return s == StatusRefused || s == StatusCancelled }

// Active: 在庫を確保している状態
func (s Status) Active() bool { return s == StatusPending || s == StatusAccepted }

// Span は [Start, End) の半開区間
type Span struct {
	Start time.Time
	End   time.Time
}

// Overlaps: 終了時刻ちょうどに始まる区間とは重ならない
func (s Span) Overlaps(o Span) bool {
	return s.Start.Before(o.End) && s.End.After(o.Start)
}

// Equipment は equipment テーブルのうちエンジンが読む列
type Equipment struct {
	ID          int64     `db:"equipment_id"`
	Type        string    `db:"type"`
	TotalQty    int       `db:"total_qty"`
	StructureID int64     `db:"structure_id"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (e Equipment) Kind() (roles.EquipmentType, bool) {
	return roles.NormalizeType(e.Type)
}

// Item は loan_items の1行。Type は equipment から引いた種別
type Item struct {
	LoanID      string              `db:"loan_id"`
	EquipmentID int64               `db:"equipment_id"`
	Quantity    int                 `db:"quantity"`
	Type        roles.EquipmentType `db:"-"`
}

// Loan は loan_requests の1行と明細
type Loan struct {
	ID           string         `db:"loan_id"`
	OwnerID      int64          `db:"owner_id"`
	BorrowerID   int64          `db:"borrower_id"`
	RequestedBy  string         `db:"requested_by"`
	ProcessedBy  sql.NullString `db:"processed_by"`
	StartDate    time.Time      `db:"start_date"`
	EndDate      time.Time      `db:"end_date"`
	Status       Status         `db:"status"`
	DecisionNote sql.NullString `db:"decision_note"`
	Archived     bool           `db:"archived"`
	ArchivedAt   sql.NullTime   `db:"archived_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	Items        []Item         `db:"-"`
}

func (l Loan) Span() Span { return Span{Start: l.StartDate, End: l.EndDate} }

// Types は明細に含まれる機材種別（重複なし）
func (l Loan) Types() []roles.EquipmentType {
	seen := make(map[roles.EquipmentType]struct{}, len(l.Items))
	out := make([]roles.EquipmentType, 0, len(l.Items))
	for _, it := range l.Items {
		if _, ok := seen[it.Type]; ok {
			continue
		}
		seen[it.Type] = struct{}{}
		out = append(out, it.Type)
	}
	return out
}

func (l Loan) EquipmentIDs() []int64 {
	ids := make([]int64, 0, len(l.Items))
	for _, it := range l.Items {
		ids = append(ids, it.EquipmentID)
	}
	return ids
}

// Actor は操作しているユーザー
type Actor struct {
	ID          string
	Role        string
	StructureID int64
}

// Availability は可用性チェックの結果
type Availability struct {
	Available    bool `json:"available"`
	AvailableQty int  `json:"available_qty"`
}

// 貸出リスト取得用の検索条件
type LoanFilter struct {
	StructureID *int64
	Side        string // "owner" | "borrower" | "" (両方)
	Status      *Status
	Historical  bool // true ならアーカイブ済みも含める
	Limit       int
	Offset      int
}
