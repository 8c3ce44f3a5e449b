package domain

import (
	"context"
	"errors"
	"time"
)

const (
	MaxDescriptionLength = 280
	MaxHintLength        = 500
)

type AttachRequest struct {
	OwnerUsername string
	InvoiceID     string
	Code          string
	Description   string
	ExpiryDate    time.Time
	IsUsed        bool
}

type Coupon struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	ExpiryDate  time.Time `json:"expiryDate"`
	IsUsed      bool      `json:"isUsed"`
}

type SuggestRequest struct {
	OwnerUsername string
	InvoiceID     string
	Hint          string
}

type Suggestion struct {
	Description string `json:"description"`
	AIUseCount  int    `json:"aiUseCount"`
}

type Service interface {
	Attach(context.Context, AttachRequest) (Coupon, error)
	SuggestDescription(context.Context, SuggestRequest) (Suggestion, error)
}

var (
	ErrInvalidCode        = errors.New("invalid_coupon_code")
	ErrInvalidExpiry      = errors.New("invalid_coupon_expiry")
	ErrDescriptionTooLong = errors.New("coupon_description_too_long")
	ErrHintTooLong        = errors.New("coupon_hint_too_long")
	ErrNotFound           = errors.New("invoice_not_found")
	ErrAIQuotaExceeded    = errors.New("ai_quota_exceeded")
	ErrSuggestionFailed   = errors.New("suggestion_failed")
)
