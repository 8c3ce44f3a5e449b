package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MaxAIUses caps AI-assisted operations per invoice record.
const MaxAIUses = 3

// InvoiceRecord is the owner-scoped claim on an extracted invoice identifier.
type InvoiceRecord struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	OwnerID           snowflake.ID   `gorm:"not null;uniqueIndex:ux_invoice_records_owner_invoice,priority:1" json:"owner_id"`
	InvoiceID         string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_invoice_records_owner_invoice,priority:2" json:"invoice_id"`
	AIUseCount        int            `gorm:"not null;default:0" json:"ai_use_count"`
	Coupon            datatypes.JSON `gorm:"type:json" json:"coupon,omitempty"`
	ArtifactKey       *string        `gorm:"type:varchar(512);index" json:"artifact_key,omitempty"`
	ArtifactURL       *string        `gorm:"type:text" json:"artifact_url,omitempty"`
	ArtifactStoredAt  *time.Time     `json:"artifact_stored_at,omitempty"`
	ReclaimedAt       *time.Time     `json:"reclaimed_at,omitempty"`
	ReclaimFailedAt   *time.Time     `json:"reclaim_failed_at,omitempty"`
	FeedbackSubmitted bool           `gorm:"not null;default:false" json:"feedback_submitted"`
	CreatedAt         time.Time      `gorm:"not null;index" json:"created_at"`
}

func (InvoiceRecord) TableName() string { return "invoice_records" }

// HasArtifact reports whether a merged artifact is currently referenced.
func (r InvoiceRecord) HasArtifact() bool {
	return r.ArtifactKey != nil && *r.ArtifactKey != ""
}

// UploadQuota tracks per-owner upload counters. Day is the UTC calendar day (YYYY-MM-DD)
// the daily counter belongs to.
type UploadQuota struct {
	OwnerID      snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"owner_id"`
	TotalUploads int          `gorm:"not null;default:0" json:"total_uploads"`
	DailyUploads int          `gorm:"not null;default:0" json:"daily_uploads"`
	Day          string       `gorm:"type:varchar(10);not null" json:"day"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (UploadQuota) TableName() string { return "upload_quotas" }

// CallerWindow is one fixed window of the per-caller request counter.
type CallerWindow struct {
	CallerKey   string    `gorm:"type:varchar(255);primaryKey" json:"caller_key"`
	WindowStart int64     `gorm:"primaryKey;autoIncrement:false" json:"window_start"`
	Hits        int64     `gorm:"not null;default:0" json:"hits"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (CallerWindow) TableName() string { return "caller_windows" }

// FeedbackSubmission is the single accepted feedback for an invoice record.
type FeedbackSubmission struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID         snowflake.ID `gorm:"not null;index" json:"owner_id"`
	InvoiceRecordID snowflake.ID `gorm:"not null;uniqueIndex" json:"invoice_record_id"`
	Rating          int          `gorm:"not null" json:"rating"`
	Comment         string       `gorm:"type:text" json:"comment"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
}

func (FeedbackSubmission) TableName() string { return "feedback_submissions" }

// Coupon is the optional promotion attached to an invoice record.
type Coupon struct {
	Code        string    `json:"code"`
	Description string    `json:"description"`
	ExpiryDate  time.Time `json:"expiryDate"`
	IsUsed      bool      `json:"isUsed"`
}

// ArtifactRef points at a stored merged artifact.
type ArtifactRef struct {
	Key string
	URL string
}
