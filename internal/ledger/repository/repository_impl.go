package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/ledger/domain"
	"github.com/smallbiznis/feedlink/pkg/db"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	GenID *snowflake.Node
	Clock clock.Clock
}

type repo struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Ledger {
	c := p.Clock
	if c == nil {
		c = clock.System()
	}
	return &repo{db: p.DB, genID: p.GenID, clock: c}
}

const recordColumns = `id, owner_id, invoice_id, ai_use_count, coupon, artifact_key, artifact_url,
	artifact_stored_at, reclaimed_at, reclaim_failed_at, feedback_submitted, created_at`

func (r *repo) ReserveInvoice(ctx context.Context, ownerID snowflake.ID, invoiceID string) (domain.ReserveOutcome, domain.InvoiceRecord, error) {
	if ownerID == 0 {
		return 0, domain.InvoiceRecord{}, domain.ErrInvalidOwner
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return 0, domain.InvoiceRecord{}, domain.ErrInvalidInvoiceID
	}

	record := domain.InvoiceRecord{
		ID:        r.genID.Generate(),
		OwnerID:   ownerID,
		InvoiceID: invoiceID,
		CreatedAt: r.clock.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO invoice_records (id, owner_id, invoice_id, ai_use_count, feedback_submitted, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		record.ID,
		record.OwnerID,
		record.InvoiceID,
		false,
		record.CreatedAt,
	).Error
	if err == nil {
		return domain.ReserveCreated, record, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return 0, domain.InvoiceRecord{}, fmt.Errorf("reserve invoice: %w", err)
	}

	existing, findErr := r.FindInvoice(ctx, ownerID, invoiceID)
	if findErr != nil {
		return 0, domain.InvoiceRecord{}, findErr
	}
	if existing == nil {
		// The unique violation came from the primary key, not from (owner, invoice).
		return 0, domain.InvoiceRecord{}, fmt.Errorf("reserve invoice %d: %w", record.ID, domain.ErrIDCollision)
	}
	return domain.ReserveDuplicate, *existing, nil
}

func (r *repo) FindInvoice(ctx context.Context, ownerID snowflake.ID, invoiceID string) (*domain.InvoiceRecord, error) {
	return r.findInvoice(r.db.WithContext(ctx), ownerID, invoiceID)
}

func (r *repo) findInvoice(conn *gorm.DB, ownerID snowflake.ID, invoiceID string) (*domain.InvoiceRecord, error) {
	var record domain.InvoiceRecord
	err := conn.Raw(
		`SELECT `+recordColumns+`
		 FROM invoice_records WHERE owner_id = ? AND invoice_id = ?`,
		ownerID,
		invoiceID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) IncrementAIUsage(ctx context.Context, ownerID snowflake.ID, invoiceID string) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE invoice_records SET ai_use_count = ai_use_count + 1
			 WHERE owner_id = ? AND invoice_id = ? AND ai_use_count < ?`,
			ownerID,
			invoiceID,
			domain.MaxAIUses,
		)
		if res.Error != nil {
			return res.Error
		}

		record, err := r.findInvoice(tx, ownerID, invoiceID)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.ErrRecordNotFound
		}
		count = record.AIUseCount
		if res.RowsAffected == 0 {
			return domain.ErrAIQuotaExceeded
		}
		return nil
	})
	return count, err
}

func (r *repo) CheckAndBumpUploadQuota(ctx context.Context, ownerID snowflake.ID, limits domain.UploadLimits) (domain.QuotaOutcome, error) {
	if ownerID == 0 {
		return 0, domain.ErrInvalidOwner
	}
	now := r.clock.Now().UTC()
	today := now.Format(time.DateOnly)
	conn := r.db.WithContext(ctx)

	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.UploadQuota{
		OwnerID:   ownerID,
		Day:       today,
		UpdatedAt: now,
	}).Error; err != nil {
		return 0, fmt.Errorf("ensure upload quota: %w", err)
	}

	// Daily reset and both increments happen in one conditional statement.
	// daily_uploads is assigned before day so MySQL sees the previous day value.
	res := conn.Exec(
		`UPDATE upload_quotas
		 SET daily_uploads = CASE WHEN day = ? THEN daily_uploads + 1 ELSE 1 END,
		     total_uploads = total_uploads + 1,
		     day = ?,
		     updated_at = ?
		 WHERE owner_id = ?
		   AND (? = 0 OR total_uploads < ?)
		   AND (? = 0 OR day <> ? OR daily_uploads < ?)`,
		today,
		today,
		now,
		ownerID,
		limits.Total, limits.Total,
		limits.Daily, today, limits.Daily,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("bump upload quota: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return domain.QuotaOK, nil
	}

	var quota domain.UploadQuota
	if err := conn.Raw(
		`SELECT owner_id, total_uploads, daily_uploads, day, updated_at FROM upload_quotas WHERE owner_id = ?`,
		ownerID,
	).Scan(&quota).Error; err != nil {
		return 0, err
	}
	if quota.OwnerID == 0 {
		return 0, errors.New("upload quota row missing")
	}
	if limits.Total > 0 && quota.TotalUploads >= limits.Total {
		return domain.QuotaTotalLimitExceeded, nil
	}
	return domain.QuotaDailyLimitExceeded, nil
}

func (r *repo) SetArtifactRef(ctx context.Context, recordID snowflake.ID, ref *domain.ArtifactRef) error {
	conn := r.db.WithContext(ctx)
	var res *gorm.DB
	if ref == nil {
		res = conn.Exec(
			`UPDATE invoice_records SET artifact_key = NULL, artifact_url = NULL, artifact_stored_at = NULL, reclaim_failed_at = NULL WHERE id = ?`,
			recordID,
		)
	} else {
		res = conn.Exec(
			`UPDATE invoice_records SET artifact_key = ?, artifact_url = ?, artifact_stored_at = ?, reclaimed_at = NULL, reclaim_failed_at = NULL WHERE id = ?`,
			ref.Key,
			ref.URL,
			r.clock.Now().UTC(),
			recordID,
		)
	}
	if res.Error != nil {
		return fmt.Errorf("set artifact ref: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (r *repo) ClearArtifactRef(ctx context.Context, recordID snowflake.ID, expectedKey string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoice_records SET artifact_key = NULL, artifact_url = NULL, reclaimed_at = ?, reclaim_failed_at = NULL
		 WHERE id = ? AND artifact_key = ?`,
		now.UTC(),
		recordID,
		expectedKey,
	)
	if res.Error != nil {
		return false, fmt.Errorf("clear artifact ref: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkReclaimFailed stamps a failed reclaim attempt so the next scan tries
// records that have not failed yet before coming back to this one.
func (r *repo) MarkReclaimFailed(ctx context.Context, recordID snowflake.ID, expectedKey string, now time.Time) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoice_records SET reclaim_failed_at = ? WHERE id = ? AND artifact_key = ?`,
		now.UTC(),
		recordID,
		expectedKey,
	)
	if res.Error != nil {
		return fmt.Errorf("mark reclaim failed: %w", res.Error)
	}
	return nil
}

func (r *repo) MarkFeedbackSubmitted(ctx context.Context, tx *gorm.DB, ownerID snowflake.ID, invoiceID string) (domain.InvoiceRecord, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	conn = conn.WithContext(ctx)

	res := conn.Exec(
		`UPDATE invoice_records SET feedback_submitted = ?
		 WHERE owner_id = ? AND invoice_id = ? AND feedback_submitted = ?`,
		true,
		ownerID,
		invoiceID,
		false,
	)
	if res.Error != nil {
		return domain.InvoiceRecord{}, fmt.Errorf("mark feedback submitted: %w", res.Error)
	}

	record, err := r.findInvoice(conn, ownerID, invoiceID)
	if err != nil {
		return domain.InvoiceRecord{}, err
	}
	if record == nil {
		return domain.InvoiceRecord{}, domain.ErrRecordNotFound
	}
	if res.RowsAffected == 0 {
		return *record, domain.ErrFeedbackAlreadySubmitted
	}
	return *record, nil
}

func (r *repo) AttachCoupon(ctx context.Context, ownerID snowflake.ID, invoiceID string, coupon domain.Coupon) error {
	payload, err := json.Marshal(coupon)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoice_records SET coupon = ? WHERE owner_id = ? AND invoice_id = ?`,
		datatypes.JSON(payload),
		ownerID,
		invoiceID,
	)
	if res.Error != nil {
		return fmt.Errorf("attach coupon: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func (r *repo) ListReclaimable(ctx context.Context, createdBefore time.Time, limit int) ([]domain.InvoiceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []domain.InvoiceRecord
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+`
		 FROM invoice_records
		 WHERE artifact_key IS NOT NULL AND created_at < ?
		 ORDER BY CASE WHEN reclaim_failed_at IS NULL THEN 0 ELSE 1 END ASC,
		          reclaim_failed_at ASC, created_at ASC, id ASC
		 LIMIT ?`,
		createdBefore.UTC(),
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CountOrphanedClaims(ctx context.Context, createdBefore time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invoice_records
		 WHERE artifact_key IS NULL AND reclaimed_at IS NULL AND created_at < ?`,
		createdBefore.UTC(),
	).Scan(&count).Error
	return count, err
}

func (r *repo) HitCallerWindow(ctx context.Context, callerKey string, window time.Duration, now time.Time) (int64, int64, error) {
	size := window.Milliseconds()
	if size <= 0 {
		return 0, 0, domain.ErrInvalidWindow
	}
	start := now.UnixMilli() / size * size
	previousStart := start - size
	conn := r.db.WithContext(ctx)

	err := conn.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "caller_key"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"hits":       gorm.Expr("caller_windows.hits + 1"),
			"updated_at": now.UTC(),
		}),
	}).Create(&domain.CallerWindow{
		CallerKey:   callerKey,
		WindowStart: start,
		Hits:        1,
		UpdatedAt:   now.UTC(),
	}).Error
	if err != nil {
		return 0, 0, fmt.Errorf("hit caller window: %w", err)
	}

	var rows []domain.CallerWindow
	if err := conn.Raw(
		`SELECT caller_key, window_start, hits, updated_at FROM caller_windows
		 WHERE caller_key = ? AND window_start IN (?, ?)`,
		callerKey,
		start,
		previousStart,
	).Scan(&rows).Error; err != nil {
		return 0, 0, err
	}

	var current, previous int64
	for _, row := range rows {
		switch row.WindowStart {
		case start:
			current = row.Hits
		case previousStart:
			previous = row.Hits
		}
	}
	return current, previous, nil
}
