package structures

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"KURA-backend/internal/platform/db"
)

// ===== Error model =====
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// StructureStore は Store の抽象
type StructureStore interface {
	List(ctx context.Context, includeDisabled bool) ([]Structure, error)
	GetByID(ctx context.Context, id int64) (*Structure, error)
	Create(ctx context.Context, name string) (int64, error)
	Update(ctx context.Context, id int64, name string, disabled bool) error
	Disable(ctx context.Context, id int64) error
}

type Service struct {
	store StructureStore
}

func NewService(store StructureStore) *Service { return &Service{store: store} }

func parseBoolish(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	return s == "1" || s == "true" || s == "yes" || s == "all"
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", ErrInvalid("name is required")
	}
	return name, nil
}

func (s *Service) List(ctx context.Context, all string) ([]Structure, error) {
	res, err := s.store.List(ctx, parseBoolish(all))
	if err != nil {
		return nil, ErrInternal("failed to list structures")
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Structure, error) {
	st, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("structure not found")
		}
		return nil, ErrInternal("failed to get structure")
	}
	return st, nil
}

func (s *Service) Create(ctx context.Context, name string) (*Structure, error) {
	n, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	id, err := s.store.Create(ctx, n)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, ErrConflict("structure name already exists")
		}
		return nil, ErrInternal("failed to create structure")
	}
	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id int64, name string, disabled bool) (*Structure, error) {
	n, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, id, n, disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound("structure not found")
		}
		if db.IsDuplicateKey(err) {
			return nil, ErrConflict("structure name already exists")
		}
		return nil, ErrInternal("failed to update structure")
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Disable(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("structure not found")
		}
		return ErrInternal("failed to delete structure")
	}
	return nil
}
