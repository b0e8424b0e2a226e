package loans

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"KURA-backend/internal/platform/db"
)

type fakeState struct {
	equipment map[int64]Equipment
	loans     map[string]*Loan
	touched   map[int64]int
}

func cloneLoan(l *Loan) *Loan {
	cp := *l
	cp.Items = append([]Item(nil), l.Items...)
	return &cp
}

func (st *fakeState) clone() *fakeState {
	out := &fakeState{
		equipment: make(map[int64]Equipment, len(st.equipment)),
		loans:     make(map[string]*Loan, len(st.loans)),
		touched:   make(map[int64]int, len(st.touched)),
	}
	for k, v := range st.equipment {
		out.equipment[k] = v
	}
	for k, v := range st.loans {
		out.loans[k] = cloneLoan(v)
	}
	for k, v := range st.touched {
		out.touched[k] = v
	}
	return out
}

func (st *fakeState) getEquipment(id int64) *Equipment {
	eq, ok := st.equipment[id]
	if !ok {
		return nil
	}
	return &eq
}

func (st *fakeState) reserved(equipmentID int64, span Span) int {
	total := 0
	for _, l := range st.loans {
		if l.Archived || !l.Status.Active() || !l.Span().Overlaps(span) {
			continue
		}
		for _, it := range l.Items {
			if it.EquipmentID == equipmentID {
				total += it.Quantity
			}
		}
	}
	return total
}

// withTypes は読み出し時に機材種別を埋める（MySQL 版の JOIN 相当）
func (st *fakeState) withTypes(l *Loan) *Loan {
	out := cloneLoan(l)
	for i := range out.Items {
		if eq, ok := st.equipment[out.Items[i].EquipmentID]; ok {
			out.Items[i].Type, _ = eq.Kind()
		}
	}
	return out
}

func (st *fakeState) getLoan(id string, historical bool) (*Loan, error) {
	l, ok := st.loans[id]
	if !ok || (l.Archived && !historical) {
		return nil, ErrNotFound("loan not found")
	}
	return st.withTypes(l), nil
}

// fakeStore は InTx を1つずつ直列に実行するインメモリ実装。
// conflicts が残っている間は commit 直前に書き込み競合を返して巻き戻す。
type fakeStore struct {
	mu         sync.Mutex
	st         *fakeState
	structures map[int64]bool
	conflicts  int
	onConflict func(st *fakeState)
	txCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		st: &fakeState{
			equipment: map[int64]Equipment{},
			loans:     map[string]*Loan{},
			touched:   map[int64]int{},
		},
		structures: map[int64]bool{},
	}
}

func (f *fakeStore) addStructure(ids ...int64) {
	for _, id := range ids {
		f.structures[id] = true
	}
}

func (f *fakeStore) addEquipment(id int64, typ string, total int, owner int64) {
	f.st.equipment[id] = Equipment{ID: id, Type: typ, TotalQty: total, StructureID: owner}
}

func (f *fakeStore) addLoan(l Loan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range l.Items {
		l.Items[i].LoanID = l.ID
	}
	f.st.loans[l.ID] = cloneLoan(&l)
}

func (f *fakeStore) setConflicts(n int, hook func(st *fakeState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = n
	f.onConflict = hook
}

func (f *fakeStore) snapshot() *fakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.clone()
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++

	work := f.st.clone()
	if err := fn(ctx, &fakeTx{st: work}); err != nil {
		return err
	}
	if f.conflicts > 0 {
		f.conflicts--
		if f.onConflict != nil {
			f.onConflict(f.st)
		}
		return fmt.Errorf("%w: deadlock found when trying to get lock", db.ErrWriteConflict)
	}
	f.st = work
	return nil
}

func (f *fakeStore) GetEquipment(_ context.Context, id int64) (*Equipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.getEquipment(id), nil
}

func (f *fakeStore) ReservedQuantity(_ context.Context, equipmentID int64, span Span) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.reserved(equipmentID, span), nil
}

func (f *fakeStore) GetLoan(_ context.Context, id string, historical bool) (*Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.getLoan(id, historical)
}

func (f *fakeStore) ListLoans(_ context.Context, flt LoanFilter) ([]Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Loan
	for _, l := range f.st.loans {
		if l.Archived && !flt.Historical {
			continue
		}
		if flt.Status != nil && l.Status != *flt.Status {
			continue
		}
		if flt.StructureID != nil {
			sid := *flt.StructureID
			switch flt.Side {
			case "owner":
				if l.OwnerID != sid {
					continue
				}
			case "borrower":
				if l.BorrowerID != sid {
					continue
				}
			default:
				if l.OwnerID != sid && l.BorrowerID != sid {
					continue
				}
			}
		}
		out = append(out, *f.st.withTypes(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) StructureExists(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.structures[id], nil
}

func (f *fakeStore) ArchiveEndedBefore(_ context.Context, cutoff, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.st.loans {
		if !l.Archived && l.EndDate.Before(cutoff) {
			l.Archived = true
			l.ArchivedAt.Time, l.ArchivedAt.Valid = at, true
			n++
		}
	}
	return n, nil
}

type fakeTx struct {
	st *fakeState
}

func (t *fakeTx) GetEquipment(_ context.Context, id int64) (*Equipment, error) {
	return t.st.getEquipment(id), nil
}

func (t *fakeTx) ReservedQuantity(_ context.Context, equipmentID int64, span Span) (int, error) {
	return t.st.reserved(equipmentID, span), nil
}

func (t *fakeTx) LockEquipment(_ context.Context, ids []int64) (map[int64]Equipment, error) {
	out := make(map[int64]Equipment, len(ids))
	for _, id := range ids {
		if eq, ok := t.st.equipment[id]; ok {
			out[id] = eq
		}
	}
	return out, nil
}

func (t *fakeTx) TouchEquipment(_ context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		eq, ok := t.st.equipment[id]
		if !ok {
			continue
		}
		eq.UpdatedAt = at
		t.st.equipment[id] = eq
		t.st.touched[id]++
	}
	return nil
}

func (t *fakeTx) LockLoan(_ context.Context, id string) (*Loan, error) {
	return t.st.getLoan(id, false)
}

func (t *fakeTx) InsertLoan(_ context.Context, l *Loan) error {
	if _, ok := t.st.loans[l.ID]; ok {
		return ErrInternal("duplicate loan id")
	}
	t.st.loans[l.ID] = cloneLoan(l)
	return nil
}

func (t *fakeTx) UpdateLoan(_ context.Context, l *Loan) error {
	cur, ok := t.st.loans[l.ID]
	if !ok {
		return ErrInternal("failed to update loan")
	}
	cur.Status = l.Status
	cur.ProcessedBy = l.ProcessedBy
	cur.DecisionNote = l.DecisionNote
	cur.UpdatedAt = l.UpdatedAt
	return nil
}

func (t *fakeTx) DeleteLoan(_ context.Context, id string) error {
	delete(t.st.loans, id)
	return nil
}

// ===== その他のテスト用部品 =====

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("L%04d", g.n), nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	created     []string
	transitions []string
}

func (r *recordingNotifier) LoanCreated(_ context.Context, l Loan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, l.ID)
}

func (r *recordingNotifier) LoanTransitioned(_ context.Context, l Loan, from Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, fmt.Sprintf("%s:%s->%s", l.ID, from, l.Status))
}

func (r *recordingNotifier) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), len(r.transitions)
}
