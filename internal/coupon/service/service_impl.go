package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/feedlink/internal/observability/metrics"
	"github.com/smallbiznis/feedlink/internal/oracle"
	ownerdomain "github.com/smallbiznis/feedlink/internal/owner/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const featureCouponDescription = "coupon_description"

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

const suggestionInstruction = "Write one short, friendly promotional sentence for a coupon offered to a customer " +
	"on their next purchase. Reply with the sentence only, no quotes, at most 280 characters."

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Owners    ownerdomain.Service
	Ledger    ledgerdomain.Ledger
	Generator oracle.Generator
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	owners  ownerdomain.Service
	ledger  ledgerdomain.Ledger
	gen     oracle.Generator
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("coupon.service"),
		clock:   p.Clock,
		owners:  p.Owners,
		ledger:  p.Ledger,
		gen:     p.Generator,
		metrics: p.Metrics,
	}
}

func (s *Service) Attach(ctx context.Context, req domain.AttachRequest) (domain.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !codePattern.MatchString(code) {
		return domain.Coupon{}, domain.ErrInvalidCode
	}
	if req.ExpiryDate.IsZero() || !req.ExpiryDate.After(s.clock.Now()) {
		return domain.Coupon{}, domain.ErrInvalidExpiry
	}
	description := strings.TrimSpace(req.Description)
	if utf8.RuneCountInString(description) > domain.MaxDescriptionLength {
		return domain.Coupon{}, domain.ErrDescriptionTooLong
	}

	ownerID, err := s.ownerID(ctx, req.OwnerUsername)
	if err != nil {
		return domain.Coupon{}, err
	}

	coupon := domain.Coupon{
		Code:        code,
		Description: description,
		ExpiryDate:  req.ExpiryDate.UTC(),
		IsUsed:      req.IsUsed,
	}
	err = s.ledger.AttachCoupon(ctx, ownerID, strings.TrimSpace(req.InvoiceID), ledgerdomain.Coupon{
		Code:        coupon.Code,
		Description: coupon.Description,
		ExpiryDate:  coupon.ExpiryDate,
		IsUsed:      coupon.IsUsed,
	})
	if errors.Is(err, ledgerdomain.ErrRecordNotFound) {
		return domain.Coupon{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Coupon{}, err
	}

	s.log.Info("coupon.attached",
		zap.String("owner", req.OwnerUsername),
		zap.String("invoice_id", req.InvoiceID),
		zap.String("code", coupon.Code),
	)
	return coupon, nil
}

// SuggestDescription consumes one AI use before asking the oracle, so a failed
// oracle call still counts against the invoice.
func (s *Service) SuggestDescription(ctx context.Context, req domain.SuggestRequest) (domain.Suggestion, error) {
	hint := strings.TrimSpace(req.Hint)
	if utf8.RuneCountInString(hint) > domain.MaxHintLength {
		return domain.Suggestion{}, domain.ErrHintTooLong
	}

	ownerID, err := s.ownerID(ctx, req.OwnerUsername)
	if err != nil {
		return domain.Suggestion{}, err
	}

	invoiceID := strings.TrimSpace(req.InvoiceID)
	count, err := s.ledger.IncrementAIUsage(ctx, ownerID, invoiceID)
	switch {
	case errors.Is(err, ledgerdomain.ErrAIQuotaExceeded):
		s.metrics.RecordAIUsage(featureCouponDescription, "quota_exceeded")
		return domain.Suggestion{AIUseCount: count}, domain.ErrAIQuotaExceeded
	case errors.Is(err, ledgerdomain.ErrRecordNotFound):
		return domain.Suggestion{}, domain.ErrNotFound
	case err != nil:
		return domain.Suggestion{}, err
	}

	parts := []oracle.Part{oracle.Text(suggestionInstruction)}
	if hint != "" {
		parts = append(parts, oracle.Text("Context from the shop owner: "+hint))
	}
	out, err := s.gen.GenerateContent(ctx, parts)
	if err != nil {
		s.metrics.RecordAIUsage(featureCouponDescription, "error")
		s.log.Warn("coupon.suggestion.failed", zap.String("invoice_id", invoiceID), zap.Error(err))
		return domain.Suggestion{AIUseCount: count}, fmt.Errorf("%w: %v", domain.ErrSuggestionFailed, err)
	}

	description := truncate(strings.Trim(strings.TrimSpace(out), `"'`), domain.MaxDescriptionLength)
	if description == "" {
		s.metrics.RecordAIUsage(featureCouponDescription, "error")
		return domain.Suggestion{AIUseCount: count}, domain.ErrSuggestionFailed
	}

	s.metrics.RecordAIUsage(featureCouponDescription, "ok")
	s.log.Info("coupon.suggestion.generated",
		zap.String("owner", req.OwnerUsername),
		zap.String("invoice_id", invoiceID),
		zap.Int("ai_use_count", count),
	)
	return domain.Suggestion{Description: description, AIUseCount: count}, nil
}

func (s *Service) ownerID(ctx context.Context, username string) (snowflake.ID, error) {
	owner, err := s.owners.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ownerdomain.ErrNotFound) || errors.Is(err, ownerdomain.ErrInvalidUsername) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return owner.ID, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
