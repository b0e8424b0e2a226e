package equipment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"KURA-backend/internal/platform/auth"
	"KURA-backend/internal/platform/db"
	"KURA-backend/internal/roles"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string       { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError   { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrForbidden(msg string) *APIError { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInternal(msg string) *APIError  { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeForbidden:
			return http.StatusForbidden
		case CodeNotFound:
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

type EquipmentStore interface {
	Insert(ctx context.Context, e *Equipment) (int64, error)
	GetByID(ctx context.Context, id int64) (*Equipment, error)
	// 機材行をロックしたまま fn を実行し、成功すれば保存する。行が無ければ false
	Modify(ctx context.Context, id int64, fn func(e *Equipment, held []Reservation) error) (bool, error)
	List(ctx context.Context, q EquipmentQuery, p Page) ([]Equipment, int64, error)
}

type Service struct {
	store EquipmentStore
}

func NewService(store EquipmentStore) *Service { return &Service{store: store} }

// 登録・更新できるのは所属組織のメンバーで、その種別を扱えるロールのみ
func authorize(actor auth.Principal, structureID int64, types ...roles.EquipmentType) error {
	if roles.IsAdmin(actor.Role) {
		return nil
	}
	if actor.StructureID != structureID {
		return ErrForbidden("equipment belongs to another structure")
	}
	if !roles.CanModify(actor.Role, types...) {
		return ErrForbidden("role cannot manage this equipment type")
	}
	return nil
}

func normalizeType(s string) (roles.EquipmentType, error) {
	t, ok := roles.NormalizeType(s)
	if !ok {
		return "", ErrInvalid("unknown equipment type")
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, in CreateEquipmentRequest, actor auth.Principal) (*Equipment, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalid("name is required")
	}
	if in.TotalQty < 0 {
		return nil, ErrInvalid("total_qty must be >= 0")
	}
	typ, err := normalizeType(in.Type)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, in.StructureID, typ); err != nil {
		return nil, err
	}

	e := &Equipment{Name: name, Type: string(typ), TotalQty: in.TotalQty, StructureID: in.StructureID}
	id, err := s.store.Insert(ctx, e)
	if err != nil {
		if db.IsForeignKey(err) {
			return nil, ErrInvalid("structure does not exist")
		}
		log.Printf("[ERROR] equipment insert: %v", err)
		return nil, ErrInternal("failed to create equipment")
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (*Equipment, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, ErrInternal("failed to get equipment")
	}
	if e == nil {
		return nil, ErrNotFound("equipment not found")
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, q EquipmentQuery, p Page) ([]Equipment, int64, error) {
	if q.Type != nil {
		typ, err := normalizeType(*q.Type)
		if err != nil {
			return nil, 0, err
		}
		v := string(typ)
		q.Type = &v
	}
	list, total, err := s.store.List(ctx, q, p)
	if err != nil {
		return nil, 0, ErrInternal("failed to list equipment")
	}
	return list, total, nil
}

// Update: 種別を変える場合は新旧どちらの種別も扱えるロールが必要。
// total_qty は予約済みの同時占有数を下回れない
func (s *Service) Update(ctx context.Context, id int64, in UpdateEquipmentRequest, actor auth.Principal) (*Equipment, error) {
	var name string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, ErrInvalid("name must not be empty")
		}
	}
	var newType roles.EquipmentType
	if in.Type != nil {
		typ, err := normalizeType(*in.Type)
		if err != nil {
			return nil, err
		}
		newType = typ
	}
	if in.TotalQty != nil && *in.TotalQty < 0 {
		return nil, ErrInvalid("total_qty must be >= 0")
	}

	apply := func(e *Equipment, held []Reservation) error {
		cur, _ := roles.NormalizeType(e.Type)
		types := []roles.EquipmentType{cur}
		if in.Name != nil {
			e.Name = name
		}
		if in.Type != nil {
			e.Type = string(newType)
			types = append(types, newType)
		}
		if err := authorize(actor, e.StructureID, types...); err != nil {
			return err
		}
		if in.TotalQty != nil {
			if peak := PeakQuantity(held); *in.TotalQty < peak {
				return ErrInvalid(fmt.Sprintf("total_qty cannot be lower than the %d units already reserved", peak))
			}
			e.TotalQty = *in.TotalQty
		}
		return nil
	}

	var found bool
	err := db.RetryOnConflict(ctx, func(ctx context.Context) error {
		var err error
		found, err = s.store.Modify(ctx, id, apply)
		return err
	})
	if err != nil {
		var api *APIError
		if errors.As(err, &api) {
			return nil, api
		}
		log.Printf("[ERROR] equipment update id=%d: %v", id, err)
		return nil, ErrInternal("failed to update equipment")
	}
	if !found {
		return nil, ErrNotFound("equipment not found")
	}
	return s.Get(ctx, id)
}
