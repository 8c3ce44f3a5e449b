package domain

import (
	"context"
	"errors"
	"time"
)

const MaxCommentLength = 2000

type SubmitRequest struct {
	OwnerUsername string
	InvoiceID     string
	Rating        int
	Comment       string
}

type Submission struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoiceId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service interface {
	Submit(context.Context, SubmitRequest) (Submission, error)
}

var (
	ErrInvalidRating    = errors.New("invalid_rating")
	ErrCommentTooLong   = errors.New("comment_too_long")
	ErrNotFound         = errors.New("invoice_not_found")
	ErrAlreadySubmitted = errors.New("feedback_already_submitted")
)
