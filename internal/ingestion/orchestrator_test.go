package ingestion

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	mconfig "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/clock"
	"github.com/smallbiznis/feedlink/internal/config"
	"github.com/smallbiznis/feedlink/internal/extraction"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/feedlink/internal/ledger/repository"
	obsmetrics "github.com/smallbiznis/feedlink/internal/observability/metrics"
	ownerrepo "github.com/smallbiznis/feedlink/internal/owner/repository"
	ownerservice "github.com/smallbiznis/feedlink/internal/owner/service"
	"github.com/smallbiznis/feedlink/internal/pdfmerge"
	"github.com/smallbiznis/feedlink/internal/providers/email"
	"github.com/smallbiznis/feedlink/internal/qrpage"
	"github.com/smallbiznis/feedlink/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentMail struct {
	to         string
	subject    string
	attachment email.Attachment
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) SendDocument(_ context.Context, to, subject, _ string, a email.Attachment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to: to, subject: subject, attachment: a})
	return n.err
}

// failingRefLedger refuses to record artifact refs.
type failingRefLedger struct {
	ledgerdomain.Ledger
}

func (failingRefLedger) SetArtifactRef(context.Context, snowflake.ID, *ledgerdomain.ArtifactRef) error {
	return errors.New("database is locked")
}

// recordingRenderer renders real pages and remembers what it was asked for.
type recordingRenderer struct {
	gen *qrpage.Generator

	mu    sync.Mutex
	urls  []string
	pages [][]byte
}

func (r *recordingRenderer) BuildQrPage(invoiceID, feedbackURL string) ([]byte, error) {
	page, err := r.gen.BuildQrPage(invoiceID, feedbackURL)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, feedbackURL)
	r.pages = append(r.pages, page)
	return page, nil
}

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   ledgerdomain.Ledger
	store    *artifactstore.MemoryStore
	notifier *recordingNotifier
	engine   *pdfmerge.Engine
	registry *prometheus.Registry
	deps     Deps
}

func newHarness(t *testing.T, extractor extraction.Extractor, limits config.Limits) *harness {
	t.Helper()

	conn := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	fc := clock.NewFake(time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC))
	testutil.SeedOwner(t, conn, node, "acme")

	owners := ownerservice.New(ownerservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  ownerrepo.Provide(),
	})
	ledger := ledgerrepo.New(ledgerrepo.Params{DB: conn, GenID: node, Clock: fc})

	registry := prometheus.NewRegistry()
	m, err := obsmetrics.New(registry, obsmetrics.Config{ServiceName: "feedlink", Environment: "test"})
	require.NoError(t, err)

	h := &harness{
		db:       conn,
		node:     node,
		ledger:   ledger,
		store:    artifactstore.NewMemoryStore("test"),
		notifier: &recordingNotifier{},
		engine:   pdfmerge.New(),
		registry: registry,
	}
	h.deps = Deps{
		Owners:          owners,
		Ledger:          ledger,
		Extractor:       extractor,
		Renderer:        qrpage.New(),
		Merger:          h.engine,
		Store:           h.store,
		Notifier:        h.notifier,
		Limits:          config.StaticLimits(limits),
		Metrics:         m,
		Log:             zap.NewNop(),
		FeedbackBaseURL: "https://fb.example",
	}
	return h
}

func (h *harness) orchestrator() *Orchestrator { return NewOrchestrator(h.deps) }

func (h *harness) outcomes(t *testing.T, outcome string) float64 {
	return testutil.MetricValue(t, h.registry, "feedlink_ingestion_outcomes_total", map[string]string{"outcome": outcome})
}

func twoPageInvoice(t *testing.T) []byte {
	t.Helper()
	gen := qrpage.New()
	a, err := gen.BuildQrPage("page-1", "https://example.com/1")
	require.NoError(t, err)
	b, err := gen.BuildQrPage("page-2", "https://example.com/2")
	require.NoError(t, err)
	doc, err := pdfmerge.New().Merge(a, b)
	require.NoError(t, err)
	return doc
}

// letterInvoice is a two-page US Letter document, so its pages are
// distinguishable from the A4 feedback page by size.
func letterInvoice(t *testing.T) []byte {
	t.Helper()
	page := func(label string) []byte {
		m := maroto.New(mconfig.NewBuilder().WithPageSize(pagesize.Letter).Build())
		m.AddRow(20, text.NewCol(12, label))
		doc, err := m.Generate()
		require.NoError(t, err)
		return doc.GetBytes()
	}
	doc, err := pdfmerge.New().Merge(page("invoice page 1"), page("invoice page 2"))
	require.NoError(t, err)
	return doc
}

func pageDims(t *testing.T, doc []byte) []types.Dim {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	dims, err := api.PageDims(bytes.NewReader(doc), conf)
	require.NoError(t, err)
	return dims
}

func requireKind(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok, "expected *ingestion.Error, got %T", err)
	assert.Equal(t, kind, e.Kind)
	assert.Equal(t, code, e.Code)
}

func TestUploadRecordsArtifact(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "7788"}, config.Limits{})
	ctx := context.Background()

	res, err := h.orchestrator().Upload(ctx, UploadRequest{
		OwnerUsername: "acme",
		Filename:      "invoice.pdf",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
		NotifyEmail:   "owner@acme.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "7788", res.InvoiceNumber)
	assert.Equal(t, "memory://test/invoices/acme/invoice_with_qr_7788.pdf", res.URL)

	blob, ok := h.store.Get("invoices/acme/invoice_with_qr_7788.pdf")
	require.True(t, ok)
	pages, err := h.engine.PageCount(blob)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	var owner struct{ ID snowflake.ID }
	require.NoError(t, h.db.Raw(`SELECT id FROM owners WHERE username = ?`, "acme").Scan(&owner).Error)
	record, err := h.ledger.FindInvoice(ctx, owner.ID, "7788")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.HasArtifact())
	assert.Equal(t, "invoices/acme/invoice_with_qr_7788.pdf", *record.ArtifactKey)
	assert.Equal(t, res.URL, *record.ArtifactURL)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "owner@acme.test", h.notifier.sent[0].to)
	assert.Equal(t, "invoice-7788.pdf", h.notifier.sent[0].attachment.Filename)

	assert.Equal(t, float64(1), h.outcomes(t, "recorded"))
}

func TestUploadAppendsFeedbackPageLast(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "7788"}, config.Limits{})
	renderer := &recordingRenderer{gen: qrpage.New()}
	h.deps.Renderer = renderer
	doc := letterInvoice(t)

	_, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      doc,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"https://fb.example/feedback/acme/7788"}, renderer.urls)

	blob, ok := h.store.Get("invoices/acme/invoice_with_qr_7788.pdf")
	require.True(t, ok)
	merged := pageDims(t, blob)
	original := pageDims(t, doc)
	qr := pageDims(t, renderer.pages[0])
	require.Len(t, merged, 3)
	require.Len(t, qr, 1)
	assert.Equal(t, original, merged[:2])
	assert.Equal(t, qr[0], merged[2])
	assert.NotEqual(t, original[0], qr[0])
}

func TestUploadEscapesFeedbackURLSegments(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "INV/1 A"}, config.Limits{})
	testutil.SeedOwner(t, h.db, h.node, "acme.co")
	renderer := &recordingRenderer{gen: qrpage.New()}
	h.deps.Renderer = renderer

	res, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme.co",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
	})
	require.NoError(t, err)
	assert.Equal(t, "INV/1 A", res.InvoiceNumber)
	assert.Equal(t, []string{"https://fb.example/feedback/acme.co/INV%2F1%20A"}, renderer.urls)
	assert.Equal(t, "memory://test/invoices/acme.co/invoice_with_qr_INV_1_A.pdf", res.URL)
}

func TestUploadKeepsSimilarOwnersApart(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "7788"}, config.Limits{})
	testutil.SeedOwner(t, h.db, h.node, "acme.co")
	testutil.SeedOwner(t, h.db, h.node, "acme-co")
	o := h.orchestrator()
	ctx := context.Background()

	dotted, err := o.Upload(ctx, UploadRequest{OwnerUsername: "acme.co", MimeType: "application/pdf", Document: twoPageInvoice(t)})
	require.NoError(t, err)
	dashed, err := o.Upload(ctx, UploadRequest{OwnerUsername: "acme-co", MimeType: "application/pdf", Document: letterInvoice(t)})
	require.NoError(t, err)

	assert.NotEqual(t, dotted.URL, dashed.URL)
	assert.Equal(t, 2, h.store.Len())

	blob, ok := h.store.Get("invoices/acme.co/invoice_with_qr_7788.pdf")
	require.True(t, ok)
	assert.Len(t, pageDims(t, blob), 3)
	assert.NotEqual(t, pageDims(t, letterInvoice(t))[0], pageDims(t, blob)[0])
}

func TestUploadDuplicateIsConflict(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "7788"}, config.Limits{})
	o := h.orchestrator()
	doc := twoPageInvoice(t)
	ctx := context.Background()

	_, err := o.Upload(ctx, UploadRequest{OwnerUsername: "acme", MimeType: "application/pdf", Document: doc})
	require.NoError(t, err)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "acme", MimeType: "application/pdf", Document: doc})
	requireKind(t, err, KindConflict, CodeInvoiceConflict)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, float64(1), h.outcomes(t, string(KindConflict)))
}

func TestUploadConcurrentSameInvoiceSingleWinner(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "INV-9"}, config.Limits{})
	o := h.orchestrator()
	doc := twoPageInvoice(t)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Upload(context.Background(), UploadRequest{OwnerUsername: "acme", MimeType: "application/pdf", Document: doc})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, KindConflict, CodeInvoiceConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.store.Len())
}

func TestUploadNotFoundSentinel(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "Not Found"}, config.Limits{})

	_, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
	})
	requireKind(t, err, KindExtraction, CodeIdentifierNotFound)
	assert.Equal(t, 0, h.store.Len())

	var claims int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(*) FROM invoice_records`).Scan(&claims).Error)
	assert.Zero(t, claims)
}

func TestUploadExtractionFailure(t *testing.T) {
	h := newHarness(t, extraction.Static{Err: errors.New("oracle down")}, config.Limits{})

	_, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
	})
	requireKind(t, err, KindExtraction, CodeExtractionFailed)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "1"}, config.Limits{})
	h.deps.MaxBytes = 64
	o := h.orchestrator()
	ctx := context.Background()

	_, err := o.Upload(ctx, UploadRequest{OwnerUsername: "acme"})
	requireKind(t, err, KindValidation, CodeDocumentRequired)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "acme", Document: make([]byte, 65)})
	requireKind(t, err, KindValidation, CodeDocumentTooLarge)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "", Document: []byte("%PDF-1.7")})
	requireKind(t, err, KindValidation, CodeOwnerRequired)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "acme", MimeType: "text/plain", Document: []byte("hello")})
	requireKind(t, err, KindValidation, CodeUnsupportedMediaType)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "nobody", MimeType: "application/pdf", Document: []byte("%PDF-1.7")})
	requireKind(t, err, KindOwnerNotFound, CodeOwnerNotFound)
}

func TestUploadQuotaExceeded(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "Not Found"}, config.Limits{DailyUploads: 1, TotalUploads: 5})
	o := h.orchestrator()
	doc := twoPageInvoice(t)
	ctx := context.Background()

	_, err := o.Upload(ctx, UploadRequest{OwnerUsername: "acme", MimeType: "application/pdf", Document: doc})
	requireKind(t, err, KindExtraction, CodeIdentifierNotFound)

	_, err = o.Upload(ctx, UploadRequest{OwnerUsername: "acme", MimeType: "application/pdf", Document: doc})
	requireKind(t, err, KindQuotaExceeded, CodeDailyUploadLimit)
}

func TestUploadMergeFailureKeepsClaim(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "55"}, config.Limits{})

	_, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      []byte("%PDF-1.7\nnot really a pdf"),
	})
	requireKind(t, err, KindMerge, CodeMergeFailed)
	assert.Equal(t, 0, h.store.Len())

	var claims int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(*) FROM invoice_records WHERE artifact_key IS NULL`).Scan(&claims).Error)
	assert.Equal(t, int64(1), claims)
}

func TestUploadRecordFailureRemovesBlob(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "7788"}, config.Limits{})
	h.deps.Ledger = failingRefLedger{Ledger: h.ledger}

	_, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
	})
	requireKind(t, err, KindStorage, CodeStorageFailed)
	assert.Equal(t, 0, h.store.Len())
}

func TestUploadNotifyFailureDoesNotFailUpload(t *testing.T) {
	h := newHarness(t, extraction.Static{Output: "99"}, config.Limits{})
	h.notifier.err = errors.New("smtp unreachable")

	res, err := h.orchestrator().Upload(context.Background(), UploadRequest{
		OwnerUsername: "acme",
		MimeType:      "application/pdf",
		Document:      twoPageInvoice(t),
		NotifyEmail:   "owner@acme.test",
	})
	require.NoError(t, err)
	assert.Equal(t, "99", res.InvoiceNumber)
	assert.Len(t, h.notifier.sent, 1)
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectMimeType("application/pdf; charset=binary", nil))
	assert.Equal(t, "application/pdf", detectMimeType("", []byte("%PDF-1.4\n")))
	assert.Equal(t, "application/pdf", detectMimeType("application/octet-stream", []byte("%PDF-1.4\n")))
	assert.Equal(t, "image/png", detectMimeType("IMAGE/PNG", nil))
}
