package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ReserveOutcome int

const (
	ReserveCreated ReserveOutcome = iota + 1
	ReserveDuplicate
)

func (o ReserveOutcome) String() string {
	switch o {
	case ReserveCreated:
		return "created"
	case ReserveDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

type QuotaOutcome int

const (
	QuotaOK QuotaOutcome = iota + 1
	QuotaDailyLimitExceeded
	QuotaTotalLimitExceeded
)

func (o QuotaOutcome) String() string {
	switch o {
	case QuotaOK:
		return "ok"
	case QuotaDailyLimitExceeded:
		return "daily_limit_exceeded"
	case QuotaTotalLimitExceeded:
		return "total_limit_exceeded"
	default:
		return "unknown"
	}
}

// UploadLimits bounds uploads per owner. Zero means unlimited.
type UploadLimits struct {
	Daily int
	Total int
}

// Ledger is the durable, atomically updated store of invoice claims and quotas.
// Every mutating operation is a single conditional statement or runs inside one transaction.
type Ledger interface {
	ReserveInvoice(ctx context.Context, ownerID snowflake.ID, invoiceID string) (ReserveOutcome, InvoiceRecord, error)
	FindInvoice(ctx context.Context, ownerID snowflake.ID, invoiceID string) (*InvoiceRecord, error)
	IncrementAIUsage(ctx context.Context, ownerID snowflake.ID, invoiceID string) (int, error)
	CheckAndBumpUploadQuota(ctx context.Context, ownerID snowflake.ID, limits UploadLimits) (QuotaOutcome, error)
	SetArtifactRef(ctx context.Context, recordID snowflake.ID, ref *ArtifactRef) error
	ClearArtifactRef(ctx context.Context, recordID snowflake.ID, expectedKey string, now time.Time) (bool, error)
	MarkReclaimFailed(ctx context.Context, recordID snowflake.ID, expectedKey string, now time.Time) error
	MarkFeedbackSubmitted(ctx context.Context, tx *gorm.DB, ownerID snowflake.ID, invoiceID string) (InvoiceRecord, error)
	AttachCoupon(ctx context.Context, ownerID snowflake.ID, invoiceID string, coupon Coupon) error
	ListReclaimable(ctx context.Context, createdBefore time.Time, limit int) ([]InvoiceRecord, error)
	CountOrphanedClaims(ctx context.Context, createdBefore time.Time) (int64, error)
	HitCallerWindow(ctx context.Context, callerKey string, window time.Duration, now time.Time) (current, previous int64, err error)
}

var (
	ErrRecordNotFound           = errors.New("invoice_record_not_found")
	ErrAIQuotaExceeded          = errors.New("ai_quota_exceeded")
	ErrFeedbackAlreadySubmitted = errors.New("feedback_already_submitted")
	ErrInvalidInvoiceID         = errors.New("invalid_invoice_id")
	ErrInvalidOwner             = errors.New("invalid_owner")
	ErrInvalidWindow            = errors.New("invalid_window")
	ErrIDCollision              = errors.New("record_id_collision")
)
