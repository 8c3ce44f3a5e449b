package domain

import (
	"context"
	"errors"
)

type CreateOwnerRequest struct {
	Username string
	Email    string
}

type Service interface {
	Create(context.Context, CreateOwnerRequest) (Owner, error)
	GetByUsername(ctx context.Context, username string) (Owner, error)
	Delete(ctx context.Context, username string) error
}

var (
	ErrInvalidUsername = errors.New("invalid_username")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrUsernameTaken   = errors.New("username_taken")
	ErrNotFound        = errors.New("owner_not_found")
	ErrStoreRequired   = errors.New("artifact_store_required")
)
