package loans

import (
	"context"
	"crypto/rand"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"KURA-backend/internal/platform/db"
	"KURA-backend/internal/roles"
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Notifier は作成・遷移の成功後に呼ばれる。失敗しても処理結果には影響しない
type Notifier interface {
	LoanCreated(ctx context.Context, l Loan)
	LoanTransitioned(ctx context.Context, l Loan, from Status)
}

type nopNotifier struct{}

func (nopNotifier) LoanCreated(context.Context, Loan)              {}
func (nopNotifier) LoanTransitioned(context.Context, Loan, Status) {}

// Tx はトランザクション内で使える操作
type Tx interface {
	Reader
	// 機材行を id 昇順に FOR UPDATE でロックする
	LockEquipment(ctx context.Context, ids []int64) (map[int64]Equipment, error)
	TouchEquipment(ctx context.Context, ids []int64, at time.Time) error
	// アーカイブされていない貸出を FOR UPDATE で取得。無ければ NOT_FOUND
	LockLoan(ctx context.Context, id string) (*Loan, error)
	InsertLoan(ctx context.Context, l *Loan) error
	UpdateLoan(ctx context.Context, l *Loan) error
	DeleteLoan(ctx context.Context, id string) error
}

// Store は永続化の境界
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetLoan(ctx context.Context, id string, historical bool) (*Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)
	StructureExists(ctx context.Context, id int64) (bool, error)
	ArchiveEndedBefore(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// ===== Service本体 =====

type Service struct {
	store    Store
	clock    Clock
	id       IDGen
	notifier Notifier
	retry    []db.RetryOption
}

type Option func(*Service)

func WithClock(c Clock) Option       { return func(s *Service) { s.clock = c } }
func WithIDGen(g IDGen) Option       { return func(s *Service) { s.id = g } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithRetryOptions(opts ...db.RetryOption) Option {
	return func(s *Service) { s.retry = append(s.retry, opts...) }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    realClock{},
		id:       ulidGen{},
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = append([]db.RetryOption{db.WithOnRetry(func(attempt int, err error) {
		log.Printf("[WARN] loans: write conflict, retrying (attempt %d): %v", attempt, err)
	})}, s.retry...)
	return s
}

// atomically は fn を1トランザクションで実行し、書き込み競合ならやり直す。
// 在庫不足と競合の使い切りはどちらも "Quantity not available" になる。
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := db.RetryOnConflict(ctx, func(ctx context.Context) error {
		return s.store.InTx(ctx, fn)
	}, s.retry...)
	switch {
	case err == nil:
		return nil
	case db.IsWriteConflict(err):
		log.Printf("[WARN] loans: retries exhausted: %v", err)
		return errQuantityNotAvailable()
	case HasCode(err, CodeConflict):
		return errQuantityNotAvailable()
	}
	return err
}

// ===== 可用性 =====

// CheckAvailability: 期間は両方指定するか両方省略する。機材が無ければ (nil, nil)
func (s *Service) CheckAvailability(ctx context.Context, equipmentID int64, start, end *time.Time, quantity int) (*Availability, error) {
	if equipmentID <= 0 {
		return nil, ErrInvalid("invalid equipment id")
	}
	if quantity < 0 {
		return nil, ErrInvalid("quantity must be >= 0")
	}
	if (start == nil) != (end == nil) {
		return nil, ErrInvalid("start and end must be given together")
	}
	var span *Span
	if start != nil {
		if start.After(*end) {
			return nil, ErrInvalid("start must not be after end")
		}
		span = &Span{Start: *start, End: *end}
	}
	return computeAvailability(ctx, s.store, equipmentID, span, quantity)
}

// ===== 作成 =====

// CreateInput はパース済みの作成リクエスト
type CreateInput struct {
	OwnerID    int64
	BorrowerID int64
	Items      []Item
	StartDate  time.Time
	EndDate    time.Time
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func (req CreateLoanRequest) toInput() (CreateInput, error) {
	start, err := parseDate(req.StartDate)
	if err != nil {
		return CreateInput{}, ErrInvalid("invalid start_date, expected RFC3339 or YYYY-MM-DD")
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return CreateInput{}, ErrInvalid("invalid end_date, expected RFC3339 or YYYY-MM-DD")
	}
	in := CreateInput{OwnerID: req.OwnerID, BorrowerID: req.BorrowerID, StartDate: start, EndDate: end}
	for _, it := range req.Items {
		in.Items = append(in.Items, Item{EquipmentID: it.EquipmentID, Quantity: it.Quantity})
	}
	return in, nil
}

// 同じ機材の明細はまとめ、機材 id 昇順に並べる
func mergeItems(items []Item) []Item {
	byID := make(map[int64]int, len(items))
	for _, it := range items {
		byID[it.EquipmentID] += it.Quantity
	}
	out := make([]Item, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Item{EquipmentID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EquipmentID < out[j].EquipmentID })
	return out
}

func validateCreate(in CreateInput) error {
	if in.OwnerID <= 0 || in.BorrowerID <= 0 {
		return ErrInvalid("owner_id and borrower_id are required")
	}
	if len(in.Items) == 0 {
		return ErrInvalid("at least one item is required")
	}
	for _, it := range in.Items {
		if it.EquipmentID <= 0 {
			return ErrInvalid("invalid equipment id")
		}
		if it.Quantity <= 0 {
			return ErrInvalid("quantity must be > 0")
		}
	}
	if in.StartDate.After(in.EndDate) {
		return ErrInvalid("start_date must not be after end_date")
	}
	return nil
}

// 貸出登録
func (s *Service) CreateLoan(ctx context.Context, req CreateLoanRequest, actor Actor) (*LoanResponse, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	l, err := s.Create(ctx, in, actor)
	if err != nil {
		return nil, err
	}
	resp := buildLoanResponse(l)
	return &resp, nil
}

// Create は検証・認可のあと、在庫確認と登録を1つの単位で行う
func (s *Service) Create(ctx context.Context, in CreateInput, actor Actor) (*Loan, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	items := mergeItems(in.Items)

	types := make([]roles.EquipmentType, 0, len(items))
	owners := make([]int64, 0, len(items))
	for i := range items {
		eq, err := s.store.GetEquipment(ctx, items[i].EquipmentID)
		if err != nil {
			return nil, err
		}
		if eq == nil {
			return nil, ErrNotFound("equipment not found")
		}
		kind, ok := eq.Kind()
		if !ok {
			return nil, ErrInternal("equipment has unknown type")
		}
		items[i].Type = kind
		types = append(types, kind)
		owners = append(owners, eq.StructureID)
	}

	plan, err := PlanCreate(actor, in.OwnerID, in.BorrowerID, types, owners)
	if err != nil {
		return nil, err
	}
	for _, sid := range []int64{in.OwnerID, in.BorrowerID} {
		ok, err := s.store.StructureExists(ctx, sid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotFound("structure not found")
		}
	}

	id, err := s.id.New()
	if err != nil {
		return nil, err
	}

	var created *Loan
	err = s.atomically(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		l := &Loan{
			ID:          id,
			OwnerID:     in.OwnerID,
			BorrowerID:  in.BorrowerID,
			RequestedBy: actor.ID,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			Status:      plan.Status,
			CreatedAt:   now,
			UpdatedAt:   now,
			Items:       make([]Item, len(items)),
		}
		copy(l.Items, items)
		for i := range l.Items {
			l.Items[i].LoanID = id
		}
		if plan.ProcessedBy != nil {
			l.ProcessedBy.String = *plan.ProcessedBy
			l.ProcessedBy.Valid = true
		}

		ids := l.EquipmentIDs()
		locked, err := tx.LockEquipment(ctx, ids)
		if err != nil {
			return err
		}
		if err := checkItems(ctx, tx, locked, l.Items, l.Span()); err != nil {
			return err
		}
		if err := tx.TouchEquipment(ctx, ids, now); err != nil {
			return err
		}
		if err := tx.InsertLoan(ctx, l); err != nil {
			return err
		}
		created = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] loan created id=%s status=%s owner=%d borrower=%d", created.ID, created.Status, created.OwnerID, created.BorrowerID)
	go s.notifier.LoanCreated(context.WithoutCancel(ctx), *created)
	return created, nil
}

// ===== 状態遷移 =====

func (s *Service) TransitionLoan(ctx context.Context, id string, req TransitionRequest, actor Actor) (*LoanResponse, error) {
	l, err := s.Transition(ctx, id, actor, req.Status, req.DecisionNote)
	if err != nil {
		return nil, err
	}
	resp := buildLoanResponse(l)
	return &resp, nil
}

// Transition は貸出をロックしてから遷移を計画・適用する。
// closed から active に戻すときだけ在庫を再確認する。
func (s *Service) Transition(ctx context.Context, id string, actor Actor, to Status, note *string) (*Loan, error) {
	if id == "" {
		return nil, ErrInvalid("loan id is required")
	}

	var (
		result *Loan
		plan   Transition
	)
	err := s.atomically(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		l, err := tx.LockLoan(ctx, id)
		if err != nil {
			return err
		}
		plan, err = PlanTransition(*l, actor, to, note, now)
		if err != nil {
			return err
		}
		if plan.Noop {
			result = l
			return nil
		}

		ids := l.EquipmentIDs()
		if plan.NeedsAvailability() {
			locked, err := tx.LockEquipment(ctx, ids)
			if err != nil {
				return err
			}
			// l は closed なので自分の明細は集計に含まれない
			if err := checkItems(ctx, tx, locked, l.Items, l.Span()); err != nil {
				return err
			}
		}
		if plan.TouchesEquipment() {
			if err := tx.TouchEquipment(ctx, ids, now); err != nil {
				return err
			}
		}
		plan.Apply(l, now)
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !plan.Noop {
		log.Printf("[INFO] loan %s: %s -> %s", result.ID, plan.From, result.Status)
		go s.notifier.LoanTransitioned(context.WithoutCancel(ctx), *result, plan.From)
	}
	return result, nil
}

// ===== 削除 =====

func (s *Service) DeleteLoan(ctx context.Context, id string, actor Actor) (*DeleteResponse, error) {
	if id == "" {
		return nil, ErrInvalid("loan id is required")
	}
	err := s.atomically(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		l, err := tx.LockLoan(ctx, id)
		if err != nil {
			return err
		}
		if err := AuthorizeDelete(*l, actor, now); err != nil {
			return err
		}
		if err := tx.TouchEquipment(ctx, l.EquipmentIDs(), now); err != nil {
			return err
		}
		return tx.DeleteLoan(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] loan deleted id=%s", id)
	return &DeleteResponse{Deleted: true}, nil
}

// ===== 参照 =====

// GetLoan: 管理者以外は貸出側か借用側の組織に属していないと読めない
func (s *Service) GetLoan(ctx context.Context, id string, historical bool, actor Actor) (*LoanResponse, error) {
	l, err := s.store.GetLoan(ctx, id, historical)
	if err != nil {
		return nil, err
	}
	if err := AuthorizeRead(*l, actor); err != nil {
		return nil, err
	}
	resp := buildLoanResponse(l)
	return &resp, nil
}

// ListLoans: 管理者以外は自分の組織に絞る。未指定なら自分の組織が既定
func (s *Service) ListLoans(ctx context.Context, f LoanFilter, actor Actor) ([]LoanResponse, error) {
	if f.Side != "" && f.Side != "owner" && f.Side != "borrower" {
		return nil, ErrInvalid("side must be owner or borrower")
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, ErrInvalid("invalid status")
	}
	if !roles.IsAdmin(actor.Role) {
		if f.StructureID != nil && *f.StructureID != actor.StructureID {
			return nil, ErrForbidden("cannot list loans of another structure")
		}
		sid := actor.StructureID
		f.StructureID = &sid
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	rows, err := s.store.ListLoans(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]LoanResponse, 0, len(rows))
	for i := range rows {
		out = append(out, buildLoanResponse(&rows[i]))
	}
	return out, nil
}

// ===== アーカイブ =====

// ArchiveEnded は cutoff より前に終了した貸出をアーカイブする。件数を返す
func (s *Service) ArchiveEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.ArchiveEndedBefore(ctx, cutoff, s.clock.Now())
	if err != nil {
		return 0, err
	}
	log.Printf("[INFO] archived %d loans ended before %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}
