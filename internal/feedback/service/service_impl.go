package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/feedback/domain"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	ownerdomain "github.com/smallbiznis/feedlink/internal/owner/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Owners ownerdomain.Service
	Ledger ledgerdomain.Ledger
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	owners ownerdomain.Service
	ledger ledgerdomain.Ledger
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("feedback.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		owners: p.Owners,
		ledger: p.Ledger,
	}
}

// Submit accepts the first feedback for an invoice. The flag flip and the
// submission row commit together.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Submission, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return domain.Submission{}, domain.ErrInvalidRating
	}
	comment := strings.TrimSpace(req.Comment)
	if utf8.RuneCountInString(comment) > domain.MaxCommentLength {
		return domain.Submission{}, domain.ErrCommentTooLong
	}
	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return domain.Submission{}, domain.ErrNotFound
	}

	owner, err := s.owners.GetByUsername(ctx, req.OwnerUsername)
	if err != nil {
		if errors.Is(err, ownerdomain.ErrNotFound) || errors.Is(err, ownerdomain.ErrInvalidUsername) {
			return domain.Submission{}, domain.ErrNotFound
		}
		return domain.Submission{}, err
	}

	row := ledgerdomain.FeedbackSubmission{
		ID:        s.genID.Generate(),
		OwnerID:   owner.ID,
		Rating:    req.Rating,
		Comment:   comment,
		CreatedAt: s.clock.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.ledger.MarkFeedbackSubmitted(ctx, tx, owner.ID, invoiceID)
		if err != nil {
			return err
		}
		row.InvoiceRecordID = record.ID
		return tx.Create(&row).Error
	})
	switch {
	case errors.Is(err, ledgerdomain.ErrRecordNotFound):
		return domain.Submission{}, domain.ErrNotFound
	case errors.Is(err, ledgerdomain.ErrFeedbackAlreadySubmitted):
		return domain.Submission{}, domain.ErrAlreadySubmitted
	case err != nil:
		return domain.Submission{}, err
	}

	s.log.Info("feedback.submitted",
		zap.String("owner", owner.Username),
		zap.String("invoice_id", invoiceID),
		zap.Int("rating", req.Rating),
	)
	return domain.Submission{
		ID:        row.ID.String(),
		InvoiceID: invoiceID,
		Rating:    row.Rating,
		Comment:   row.Comment,
		CreatedAt: row.CreatedAt,
	}, nil
}
