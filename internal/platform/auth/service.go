package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"KURA-backend/internal/roles"
)

var (
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrUnknownRole      = errors.New("unknown role")
	ErrUnknownStructure = errors.New("unknown structure")
	ErrAuthFailed       = errors.New("authentication failed")
)

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, in RegisterInput) error
	Delete(ctx context.Context, id string) error
	ChangeMembership(ctx context.Context, id, role string, structureID int64) error
}

type RegisterInput struct {
	ID          string
	Password    string
	Role        string
	StructureID int64
}

type Service struct {
	store  AccountStore
	tokens *Issuer
}

func NewService(store AccountStore, tokens *Issuer) *Service {
	return &Service{store: store, tokens: tokens}
}

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}
	return s.tokens.Issue(Principal{ID: acct.ID, Role: acct.Role, StructureID: acct.StructureID})
}

// Register: ロールは表記ゆれを許すが、既知のロールに解決できなければ弾く
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	in.Role = strings.TrimSpace(in.Role)
	if !roles.Known(in.Role) {
		return ErrUnknownRole
	}
	if in.StructureID <= 0 {
		return ErrUnknownStructure
	}

	exists, err := s.store.GetByID(ctx, in.ID)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.store.Create(ctx, &Account{
		ID:           in.ID,
		PasswordHash: string(hash),
		Role:         in.Role,
		StructureID:  in.StructureID,
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ChangeMembership(ctx context.Context, id, role string, structureID int64) error {
	role = strings.TrimSpace(role)
	if !roles.Known(role) {
		return ErrUnknownRole
	}
	n, err := s.store.UpdateMembership(ctx, id, role, structureID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
