package loans

import (
	"database/sql"
	"strings"
	"time"

	"KURA-backend/internal/roles"
)

type action int

const (
	actionDecide action = iota + 1 // 貸出側（owner）による判断
	actionCancel                   // 借用側（borrower）による取消
)

// 許可される遷移。同じ状態への遷移は別扱い（冪等）
var transitions = map[Status]map[Status]action{
	StatusPending: {
		StatusAccepted:  actionDecide,
		StatusRefused:   actionDecide,
		StatusCancelled: actionCancel,
	},
	StatusAccepted: {
		StatusPending:   actionDecide, // 承認の取り下げ。在庫は動かない
		StatusRefused:   actionDecide,
		StatusCancelled: actionCancel,
	},
	StatusRefused: {
		StatusAccepted: actionDecide,
		StatusPending:  actionDecide,
	},
	StatusCancelled: {
		StatusAccepted: actionDecide,
		StatusPending:  actionDecide,
	},
}

func actionFor(to Status) action {
	if to == StatusCancelled {
		return actionCancel
	}
	return actionDecide
}

type effect int

const (
	effectNone    effect = iota // 在庫の増減なし
	effectRelease               // active -> closed
	effectReserve               // closed -> active。在庫の再確認が必要
)

// Transition は検証済みの状態遷移
type Transition struct {
	From        Status
	To          Status
	Note        *string // nil なら変更しない
	ProcessedBy *string // nil なら変更しない
	Effect      effect
	Noop        bool
}

func (t Transition) NeedsAvailability() bool { return t.Effect == effectReserve }

// 在庫が動く遷移では機材の更新日時も進める
func (t Transition) TouchesEquipment() bool { return t.Effect != effectNone }

// Apply は遷移を l に反映する
func (t Transition) Apply(l *Loan, now time.Time) {
	if t.Noop {
		return
	}
	l.Status = t.To
	if t.Note != nil {
		l.DecisionNote = sql.NullString{String: *t.Note, Valid: true}
	}
	if t.ProcessedBy != nil {
		l.ProcessedBy = sql.NullString{String: *t.ProcessedBy, Valid: true}
	}
	l.UpdatedAt = now
}

// PlanTransition は遷移の合法性と権限を確認し、適用内容を返す
func PlanTransition(l Loan, actor Actor, to Status, note *string, now time.Time) (Transition, error) {
	if !to.Valid() {
		return Transition{}, ErrInvalid("invalid status")
	}

	act := actionFor(to)
	if to != l.Status {
		var ok bool
		act, ok = transitions[l.Status][to]
		if !ok {
			return Transition{}, ErrInvalid("cannot change status from " + string(l.Status) + " to " + string(to))
		}
	}

	switch act {
	case actionCancel:
		if err := authorizeCancel(l, actor, now); err != nil {
			return Transition{}, err
		}
	case actionDecide:
		if err := authorizeDecision(l, actor); err != nil {
			return Transition{}, err
		}
	}

	t := Transition{From: l.Status, To: to}
	if to == StatusAccepted || to == StatusRefused {
		t.Note = cleanNote(note)
	}

	if to == l.Status {
		// 判断メモだけの変更は許す
		if t.Note != nil && (!l.DecisionNote.Valid || l.DecisionNote.String != *t.Note) {
			return t, nil
		}
		t.Note = nil
		t.Noop = true
		return t, nil
	}

	if to == StatusAccepted || to == StatusRefused {
		id := actor.ID
		t.ProcessedBy = &id
	}
	switch {
	case l.Status.Active() && to.Closed():
		t.Effect = effectRelease
	case l.Status.Closed() && to.Active():
		t.Effect = effectReserve
	}
	return t, nil
}

// 判断メモ: 前後の空白を除き、空なら無視
func cleanNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isBorrowerSide(l Loan, actor Actor) bool {
	if actor.ID != "" && actor.ID == l.RequestedBy {
		return true
	}
	return roles.CancelsForStructure(actor.Role) && actor.StructureID == l.BorrowerID
}

// 取消: 申請者本人（または借用側で取消権限のあるロール）かつ開始前
func authorizeCancel(l Loan, actor Actor, now time.Time) error {
	if roles.IsAdmin(actor.Role) {
		return nil
	}
	if !isBorrowerSide(l, actor) {
		return ErrForbidden("only the requester can cancel this loan")
	}
	if !now.Before(l.StartDate) {
		return ErrForbidden("loan has already started")
	}
	return nil
}

// 判断: 貸出側の組織に属し、全明細の種別を扱えるロール
func authorizeDecision(l Loan, actor Actor) error {
	if roles.IsAdmin(actor.Role) {
		return nil
	}
	if actor.StructureID != l.OwnerID {
		return ErrForbidden("only the owner structure can decide on this loan")
	}
	if !roles.CanModify(actor.Role, l.Types()...) {
		return ErrForbidden("role cannot manage every item of this loan")
	}
	return nil
}

// AuthorizeDelete: 借用側は pending か開始前まで、貸出側は cancelled のみ削除できる
func AuthorizeDelete(l Loan, actor Actor, now time.Time) error {
	if roles.IsAdmin(actor.Role) {
		return nil
	}
	if isBorrowerSide(l, actor) && (l.Status == StatusPending || now.Before(l.StartDate)) {
		return nil
	}
	if actor.StructureID == l.OwnerID {
		if l.Status == StatusCancelled {
			return nil
		}
		return ErrForbidden("owner can only delete cancelled loans")
	}
	if isBorrowerSide(l, actor) {
		return ErrForbidden("loan can no longer be deleted")
	}
	return ErrForbidden("not allowed to delete this loan")
}

// AuthorizeRead: 貸出側・借用側の組織のメンバーと管理者だけが参照できる
func AuthorizeRead(l Loan, actor Actor) error {
	if roles.IsAdmin(actor.Role) {
		return nil
	}
	if actor.StructureID == l.OwnerID || actor.StructureID == l.BorrowerID {
		return nil
	}
	return ErrForbidden("loan belongs to other structures")
}

// CreatePlan は新規貸出の初期状態
type CreatePlan struct {
	Status      Status
	ProcessedBy *string
}

// PlanCreate は作成時の権限を確認する。types は明細の機材種別、
// equipmentOwners は明細の機材が属する組織
func PlanCreate(actor Actor, ownerID, borrowerID int64, types []roles.EquipmentType, equipmentOwners []int64) (CreatePlan, error) {
	if ownerID == borrowerID {
		return CreatePlan{}, ErrForbidden("a structure cannot borrow from itself")
	}
	for _, sid := range equipmentOwners {
		if sid != ownerID {
			return CreatePlan{}, ErrInvalid("equipment does not belong to the owner structure")
		}
	}

	admin := roles.IsAdmin(actor.Role)
	if !admin && !roles.CanModify(actor.Role, types...) {
		return CreatePlan{}, ErrForbidden("role cannot manage every item of this loan")
	}

	// 貸出側が自分で登録したものは即承認
	if actor.StructureID == ownerID {
		id := actor.ID
		return CreatePlan{Status: StatusAccepted, ProcessedBy: &id}, nil
	}
	if !admin && actor.StructureID != borrowerID {
		return CreatePlan{}, ErrForbidden("only the borrower structure can request this loan")
	}
	return CreatePlan{Status: StatusPending}, nil
}
