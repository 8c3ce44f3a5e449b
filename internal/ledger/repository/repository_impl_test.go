package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/ledger/domain"
	"github.com/smallbiznis/feedlink/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.Fake
	ledger domain.Ledger
	owner  snowflake.ID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	fc := clock.NewFake(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	owner := testutil.SeedOwner(t, conn, node, "acme")

	return fixture{
		db:     conn,
		node:   node,
		clock:  fc,
		ledger: New(Params{DB: conn, GenID: node, Clock: fc}),
		owner:  owner.ID,
	}
}

func TestReserveInvoiceCreatedThenDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, record, err := f.ledger.ReserveInvoice(ctx, f.owner, "7788")
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveCreated, outcome)
	assert.Equal(t, "7788", record.InvoiceID)
	assert.Equal(t, 0, record.AIUseCount)
	assert.False(t, record.HasArtifact())

	outcome, dup, err := f.ledger.ReserveInvoice(ctx, f.owner, "7788")
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveDuplicate, outcome)
	assert.Equal(t, record.ID, dup.ID)
}

func TestReserveInvoiceScopedPerOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := testutil.SeedOwner(t, f.db, f.node, "globex")

	outcome, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveCreated, outcome)

	outcome, _, err = f.ledger.ReserveInvoice(ctx, other.ID, "INV1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReserveCreated, outcome)
}

func TestReserveInvoiceIDCollisionIsNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two instances sharing a node number mint equal ids within one millisecond.
	nodeA, err := snowflake.NewNode(1000)
	require.NoError(t, err)
	nodeB, err := snowflake.NewNode(1000)
	require.NoError(t, err)
	a := New(Params{DB: f.db, GenID: nodeA, Clock: f.clock})
	b := New(Params{DB: f.db, GenID: nodeB, Clock: f.clock})

	collisions := 0
	for i := range 200 {
		outcome, _, err := a.ReserveInvoice(ctx, f.owner, "A-"+strconv.Itoa(i))
		require.NoError(t, err)
		require.Equal(t, domain.ReserveCreated, outcome)

		outcome, _, err = b.ReserveInvoice(ctx, f.owner, "B-"+strconv.Itoa(i))
		if err != nil {
			require.ErrorIs(t, err, domain.ErrIDCollision)
			collisions++
			continue
		}
		require.Equal(t, domain.ReserveCreated, outcome)
	}
	if collisions == 0 {
		t.Skip("no id collision happened in this run")
	}
}

func TestReserveInvoiceRejectsEmptyIdentifier(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.ledger.ReserveInvoice(context.Background(), f.owner, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInvoiceID)
}

func TestReserveInvoiceConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dups    int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			outcome, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case domain.ReserveCreated:
				created++
			case domain.ReserveDuplicate:
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, dups)
}

func TestIncrementAIUsageCapsAtThree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)

	for want := 1; want <= domain.MaxAIUses; want++ {
		got, err := f.ledger.IncrementAIUsage(ctx, f.owner, "INV1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := f.ledger.IncrementAIUsage(ctx, f.owner, "INV1")
	assert.ErrorIs(t, err, domain.ErrAIQuotaExceeded)
	assert.Equal(t, domain.MaxAIUses, got)

	record, err := f.ledger.FindInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.MaxAIUses, record.AIUseCount)
}

func TestIncrementAIUsageConcurrentNeverExceedsCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.IncrementAIUsage(ctx, f.owner, "INV1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, domain.ErrAIQuotaExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.MaxAIUses, ok)
	assert.Equal(t, 10-domain.MaxAIUses, rejected)
}

func TestIncrementAIUsageUnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.IncrementAIUsage(context.Background(), f.owner, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestCheckAndBumpUploadQuotaDailyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limits := domain.UploadLimits{Daily: 2, Total: 3}

	for i := 0; i < 2; i++ {
		outcome, err := f.ledger.CheckAndBumpUploadQuota(ctx, f.owner, limits)
		require.NoError(t, err)
		assert.Equal(t, domain.QuotaOK, outcome)
	}

	outcome, err := f.ledger.CheckAndBumpUploadQuota(ctx, f.owner, limits)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaDailyLimitExceeded, outcome)

	f.clock.Advance(24 * time.Hour)
	outcome, err = f.ledger.CheckAndBumpUploadQuota(ctx, f.owner, limits)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaOK, outcome)

	outcome, err = f.ledger.CheckAndBumpUploadQuota(ctx, f.owner, limits)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaTotalLimitExceeded, outcome)

	var quota domain.UploadQuota
	require.NoError(t, f.db.Where("owner_id = ?", f.owner).First(&quota).Error)
	assert.Equal(t, 3, quota.TotalUploads)
	assert.Equal(t, 1, quota.DailyUploads)
	assert.Equal(t, "2024-03-11", quota.Day)
}

func TestCheckAndBumpUploadQuotaUnlimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		outcome, err := f.ledger.CheckAndBumpUploadQuota(ctx, f.owner, domain.UploadLimits{})
		require.NoError(t, err)
		require.Equal(t, domain.QuotaOK, outcome)
	}
}

func TestArtifactRefLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, record, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)

	ref := &domain.ArtifactRef{Key: "invoices/acme/invoice_with_qr_INV1.pdf", URL: "https://blob.example/acme/INV1"}
	require.NoError(t, f.ledger.SetArtifactRef(ctx, record.ID, ref))

	stored, err := f.ledger.FindInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)
	require.True(t, stored.HasArtifact())
	assert.Equal(t, ref.Key, *stored.ArtifactKey)
	assert.Equal(t, ref.URL, *stored.ArtifactURL)
	require.NotNil(t, stored.ArtifactStoredAt)

	cleared, err := f.ledger.ClearArtifactRef(ctx, record.ID, "some/other/key.pdf", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = f.ledger.ClearArtifactRef(ctx, record.ID, ref.Key, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, cleared)

	after, err := f.ledger.FindInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)
	assert.False(t, after.HasArtifact())
	assert.Nil(t, after.ArtifactURL)
	assert.NotNil(t, after.ReclaimedAt)

	assert.ErrorIs(t, f.ledger.SetArtifactRef(ctx, snowflake.ID(42), ref), domain.ErrRecordNotFound)
}

func TestListReclaimableAndOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, stored, err := f.ledger.ReserveInvoice(ctx, f.owner, "STORED")
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetArtifactRef(ctx, stored.ID, &domain.ArtifactRef{Key: "k1", URL: "u1"}))
	_, _, err = f.ledger.ReserveInvoice(ctx, f.owner, "ORPHAN")
	require.NoError(t, err)

	cutoff := f.clock.Now()
	records, err := f.ledger.ListReclaimable(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	later := cutoff.Add(time.Second)
	records, err = f.ledger.ListReclaimable(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "STORED", records[0].InvoiceID)

	orphans, err := f.ledger.CountOrphanedClaims(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), orphans)
}

func TestMarkFeedbackSubmittedIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)

	record, err := f.ledger.MarkFeedbackSubmitted(ctx, nil, f.owner, "INV1")
	require.NoError(t, err)
	assert.True(t, record.FeedbackSubmitted)

	_, err = f.ledger.MarkFeedbackSubmitted(ctx, nil, f.owner, "INV1")
	assert.ErrorIs(t, err, domain.ErrFeedbackAlreadySubmitted)

	_, err = f.ledger.MarkFeedbackSubmitted(ctx, nil, f.owner, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestAttachCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.ledger.ReserveInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)

	coupon := domain.Coupon{Code: "SPRING10", Description: "10% off", ExpiryDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, f.ledger.AttachCoupon(ctx, f.owner, "INV1", coupon))

	record, err := f.ledger.FindInvoice(ctx, f.owner, "INV1")
	require.NoError(t, err)
	var got domain.Coupon
	require.NoError(t, json.Unmarshal(record.Coupon, &got))
	assert.Equal(t, coupon, got)

	assert.ErrorIs(t, f.ledger.AttachCoupon(ctx, f.owner, "missing", coupon), domain.ErrRecordNotFound)
}

func TestHitCallerWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 9, 0, 10, 0, time.UTC)

	for i := 0; i < 3; i++ {
		current, previous, err := f.ledger.HitCallerWindow(ctx, "ip:1.2.3.4", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), current)
		assert.Zero(t, previous)
	}

	current, previous, err := f.ledger.HitCallerWindow(ctx, "ip:1.2.3.4", time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	assert.Equal(t, int64(3), previous)

	_, _, err = f.ledger.HitCallerWindow(ctx, "ip:1.2.3.4", 0, now)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}
