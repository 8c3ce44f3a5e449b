package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/feedlink/internal/ledger/repository"
	"github.com/smallbiznis/feedlink/internal/oracle"
	ownerrepo "github.com/smallbiznis/feedlink/internal/owner/repository"
	ownerservice "github.com/smallbiznis/feedlink/internal/owner/service"
	"github.com/smallbiznis/feedlink/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	out   string
	err   error
	calls atomic.Int32
}

func (g *fakeGenerator) GenerateContent(_ context.Context, parts []oracle.Part) (string, error) {
	g.calls.Add(1)
	return g.out, g.err
}

var now = time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    domain.Service
	gen    *fakeGenerator
	ledger ledgerdomain.Ledger
	owner  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	fc := clock.NewFake(now)
	owner := testutil.SeedOwner(t, conn, node, "acme")

	ledger := ledgerrepo.New(ledgerrepo.Params{DB: conn, GenID: node, Clock: fc})
	_, _, err := ledger.ReserveInvoice(context.Background(), owner.ID, "7788")
	require.NoError(t, err)

	gen := &fakeGenerator{out: "Enjoy 10% off your next order!"}
	owners := ownerservice.New(ownerservice.Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: ownerrepo.Provide()})
	svc := New(Params{Log: zap.NewNop(), Clock: fc, Owners: owners, Ledger: ledger, Generator: gen})
	return &fixture{svc: svc, gen: gen, ledger: ledger, owner: owner.ID}
}

func TestAttachStoresCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	coupon, err := f.svc.Attach(ctx, domain.AttachRequest{
		OwnerUsername: "acme",
		InvoiceID:     "7788",
		Code:          " save10 ",
		Description:   "Ten percent off",
		ExpiryDate:    now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", coupon.Code)

	record, err := f.ledger.FindInvoice(ctx, f.owner, "7788")
	require.NoError(t, err)
	var stored ledgerdomain.Coupon
	require.NoError(t, json.Unmarshal(record.Coupon, &stored))
	assert.Equal(t, "SAVE10", stored.Code)
	assert.False(t, stored.IsUsed)
}

func TestAttachValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := func() domain.AttachRequest {
		return domain.AttachRequest{OwnerUsername: "acme", InvoiceID: "7788", Code: "SAVE10", ExpiryDate: now.Add(time.Hour)}
	}

	req := valid()
	req.Code = "x"
	_, err := f.svc.Attach(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	req = valid()
	req.ExpiryDate = now.Add(-time.Hour)
	_, err = f.svc.Attach(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidExpiry)

	req = valid()
	req.Description = strings.Repeat("d", domain.MaxDescriptionLength+1)
	_, err = f.svc.Attach(ctx, req)
	assert.ErrorIs(t, err, domain.ErrDescriptionTooLong)

	req = valid()
	req.InvoiceID = "missing"
	_, err = f.svc.Attach(ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req = valid()
	req.OwnerUsername = "ghost"
	_, err = f.svc.Attach(ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSuggestDescriptionCappedAtThreeUses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := domain.SuggestRequest{OwnerUsername: "acme", InvoiceID: "7788", Hint: "bakery"}

	for i := 1; i <= ledgerdomain.MaxAIUses; i++ {
		got, err := f.svc.SuggestDescription(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, i, got.AIUseCount)
		assert.Equal(t, "Enjoy 10% off your next order!", got.Description)
	}

	got, err := f.svc.SuggestDescription(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAIQuotaExceeded)
	assert.Equal(t, ledgerdomain.MaxAIUses, got.AIUseCount)
	assert.Equal(t, int32(ledgerdomain.MaxAIUses), f.gen.calls.Load())
}

func TestSuggestDescriptionOracleFailureStillConsumesUse(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("timeout")

	got, err := f.svc.SuggestDescription(context.Background(), domain.SuggestRequest{OwnerUsername: "acme", InvoiceID: "7788"})
	assert.ErrorIs(t, err, domain.ErrSuggestionFailed)
	assert.Equal(t, 1, got.AIUseCount)
}

func TestSuggestDescriptionTruncates(t *testing.T) {
	f := newFixture(t)
	f.gen.out = `"` + strings.Repeat("é", 400) + `"`

	got, err := f.svc.SuggestDescription(context.Background(), domain.SuggestRequest{OwnerUsername: "acme", InvoiceID: "7788"})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxDescriptionLength, len([]rune(got.Description)))
}

func TestSuggestDescriptionUnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SuggestDescription(context.Background(), domain.SuggestRequest{OwnerUsername: "acme", InvoiceID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.gen.calls.Load())
}
