// Package ingestion runs the upload pipeline: validate, extract, claim, render, merge, store, record.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/config"
	"github.com/smallbiznis/feedlink/internal/extraction"
	ledgerdomain "github.com/smallbiznis/feedlink/internal/ledger/domain"
	"github.com/smallbiznis/feedlink/internal/logger"
	obsmetrics "github.com/smallbiznis/feedlink/internal/observability/metrics"
	ownerdomain "github.com/smallbiznis/feedlink/internal/owner/domain"
	"github.com/smallbiznis/feedlink/internal/providers/email"
	"github.com/smallbiznis/feedlink/internal/qrpage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const mimePDF = "application/pdf"

// State is a pipeline stage. A run moves through them in declaration order.
type State string

const (
	StateReceived     State = "received"
	StateValidated    State = "validated"
	StateExtracted    State = "extracted"
	StateDedupChecked State = "dedup_checked"
	StateRendered     State = "rendered"
	StateMerged       State = "merged"
	StateStored       State = "stored"
	StateRecorded     State = "recorded"
)

type UploadRequest struct {
	OwnerUsername string
	Filename      string
	MimeType      string
	Document      []byte
	NotifyEmail   string
}

type UploadResult struct {
	URL           string `json:"url"`
	InvoiceNumber string `json:"invoiceNumber"`
}

// PageRenderer builds the feedback page.
type PageRenderer interface {
	BuildQrPage(invoiceID, feedbackURL string) ([]byte, error)
}

// Merger concatenates two documents.
type Merger interface {
	Merge(primary, secondary []byte) ([]byte, error)
}

type OwnerLookup interface {
	GetByUsername(ctx context.Context, username string) (ownerdomain.Owner, error)
}

type Params struct {
	fx.In

	Config    config.Config
	Limits    *config.LimitsHolder
	Log       *zap.Logger
	Owners    ownerdomain.Service
	Ledger    ledgerdomain.Ledger
	Extractor extraction.Extractor
	Renderer  *qrpage.Generator
	Merger    Merger
	Store     artifactstore.Store
	Notifier  email.Provider      `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Orchestrator struct {
	owners    OwnerLookup
	ledger    ledgerdomain.Ledger
	extractor extraction.Extractor
	renderer  PageRenderer
	merger    Merger
	store     artifactstore.Store
	notifier  email.Provider
	limits    *config.LimitsHolder
	metrics   *obsmetrics.Metrics
	log       *zap.Logger
	tracer    trace.Tracer

	feedbackBaseURL string
	maxBytes        int64
}

func New(p Params) *Orchestrator {
	return NewOrchestrator(Deps{
		Owners:          p.Owners,
		Ledger:          p.Ledger,
		Extractor:       p.Extractor,
		Renderer:        p.Renderer,
		Merger:          p.Merger,
		Store:           p.Store,
		Notifier:        p.Notifier,
		Limits:          p.Limits,
		Metrics:         p.Metrics,
		Log:             p.Log,
		FeedbackBaseURL: p.Config.FeedbackBaseURL,
		MaxBytes:        p.Config.UploadMaxBytes,
	})
}

// Deps wires an Orchestrator without fx.
type Deps struct {
	Owners          OwnerLookup
	Ledger          ledgerdomain.Ledger
	Extractor       extraction.Extractor
	Renderer        PageRenderer
	Merger          Merger
	Store           artifactstore.Store
	Notifier        email.Provider
	Limits          *config.LimitsHolder
	Metrics         *obsmetrics.Metrics
	Log             *zap.Logger
	FeedbackBaseURL string
	MaxBytes        int64
}

func NewOrchestrator(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	limits := d.Limits
	if limits == nil {
		limits = config.StaticLimits(config.Limits{})
	}
	maxBytes := d.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Orchestrator{
		owners:          d.Owners,
		ledger:          d.Ledger,
		extractor:       d.Extractor,
		renderer:        d.Renderer,
		merger:          d.Merger,
		store:           d.Store,
		notifier:        d.Notifier,
		limits:          limits,
		metrics:         d.Metrics,
		log:             log.Named("ingestion"),
		tracer:          otel.Tracer("feedlink/ingestion"),
		feedbackBaseURL: d.FeedbackBaseURL,
		maxBytes:        maxBytes,
	}
}

// run carries per-upload state between stages.
type run struct {
	id       string
	state    State
	log      *zap.Logger
	owner    ownerdomain.Owner
	mimeType string
	invoice  string
	record   ledgerdomain.InvoiceRecord
	qrPage   []byte
	merged   []byte
	ref      artifactstore.Ref
}

// Upload executes the pipeline. Every failure is returned as *Error.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	r := &run{id: ulid.Make().String(), state: StateReceived}
	r.log = logger.WithContext(ctx, o.log).With(
		zap.String("run_id", r.id),
		zap.String("owner", req.OwnerUsername),
	)

	ctx, span := o.tracer.Start(ctx, "ingestion.upload", trace.WithAttributes(
		attribute.String("run_id", r.id),
	))
	defer span.End()

	start := time.Now()
	result, err := o.upload(ctx, r, req)
	if err != nil {
		e, ok := AsError(err)
		if !ok {
			e = newError(KindInternal, CodeInternal, "internal error", err)
		}
		o.metrics.RecordIngestionOutcome(string(e.Kind))
		span.SetStatus(codes.Error, e.Code)
		r.log.Warn("ingestion.upload.failed",
			zap.String("state", string(r.state)),
			zap.String("kind", string(e.Kind)),
			zap.String("code", e.Code),
			zap.Duration("duration", time.Since(start)),
			zap.Error(e.Err),
		)
		return UploadResult{}, e
	}

	o.metrics.RecordIngestionOutcome(string(StateRecorded))
	r.log.Info("ingestion.upload.recorded",
		zap.String("invoice_id", result.InvoiceNumber),
		zap.String("artifact_key", r.ref.Key),
		zap.Duration("duration", time.Since(start)),
	)

	if req.NotifyEmail != "" {
		o.notify(ctx, r, req)
	}
	return result, nil
}

func (o *Orchestrator) upload(ctx context.Context, r *run, req UploadRequest) (UploadResult, error) {
	steps := []struct {
		next State
		fn   func(context.Context, *run, UploadRequest) error
	}{
		{StateValidated, o.validate},
		{StateExtracted, o.extract},
		{StateDedupChecked, o.reserve},
		{StateRendered, o.render},
		{StateMerged, o.merge},
		{StateStored, o.persist},
		{StateRecorded, o.record},
	}

	for _, step := range steps {
		if err := o.stage(ctx, r, step.next, func(ctx context.Context) error {
			return step.fn(ctx, r, req)
		}); err != nil {
			return UploadResult{}, err
		}
		r.state = step.next
	}

	return UploadResult{URL: r.ref.URL, InvoiceNumber: r.invoice}, nil
}

func (o *Orchestrator) stage(ctx context.Context, r *run, next State, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "ingestion."+string(next))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		r.log.Debug("ingestion.stage.failed", zap.String("stage", string(next)), zap.Error(err))
	}
	o.metrics.ObserveStage(string(next), result, time.Since(start))
	return err
}

// Received -> Validated. Also enforces the owner upload quota before any oracle call.
func (o *Orchestrator) validate(ctx context.Context, r *run, req UploadRequest) error {
	if len(req.Document) == 0 {
		return newError(KindValidation, CodeDocumentRequired, "a document file is required", nil)
	}
	if int64(len(req.Document)) > o.maxBytes {
		return newError(KindValidation, CodeDocumentTooLarge, fmt.Sprintf("document exceeds %d bytes", o.maxBytes), nil)
	}
	if strings.TrimSpace(req.OwnerUsername) == "" {
		return newError(KindValidation, CodeOwnerRequired, "owner username is required", nil)
	}

	r.mimeType = detectMimeType(req.MimeType, req.Document)
	if r.mimeType != mimePDF {
		return newError(KindValidation, CodeUnsupportedMediaType, "only PDF documents are accepted", nil)
	}

	owner, err := o.owners.GetByUsername(ctx, req.OwnerUsername)
	if err != nil {
		if errors.Is(err, ownerdomain.ErrNotFound) || errors.Is(err, ownerdomain.ErrInvalidUsername) {
			return newError(KindOwnerNotFound, CodeOwnerNotFound, "owner not found", err)
		}
		return newError(KindInternal, CodeInternal, "internal error", err)
	}
	r.owner = owner

	limits := o.limits.Get()
	outcome, err := o.ledger.CheckAndBumpUploadQuota(ctx, owner.ID, ledgerdomain.UploadLimits{
		Daily: limits.DailyUploads,
		Total: limits.TotalUploads,
	})
	if err != nil {
		return newError(KindInternal, CodeInternal, "internal error", err)
	}
	switch outcome {
	case ledgerdomain.QuotaDailyLimitExceeded:
		return newError(KindQuotaExceeded, CodeDailyUploadLimit, "daily upload limit reached", nil)
	case ledgerdomain.QuotaTotalLimitExceeded:
		return newError(KindQuotaExceeded, CodeTotalUploadLimit, "total upload limit reached", nil)
	}
	return nil
}

// Validated -> Extracted.
func (o *Orchestrator) extract(ctx context.Context, r *run, req UploadRequest) error {
	res := o.extractor.Extract(ctx, req.Document, r.mimeType)
	switch res.Kind {
	case extraction.KindIdentifier:
		r.invoice = res.Identifier
		r.log = r.log.With(zap.String("invoice_id", r.invoice))
		return nil
	case extraction.KindNotFound:
		return newError(KindExtraction, CodeIdentifierNotFound, "no invoice number found in document", nil)
	default:
		return newError(KindExtraction, CodeExtractionFailed, "could not read the invoice number, please retry", res.Cause)
	}
}

// Extracted -> DedupChecked. The claim is kept even if a later stage fails.
func (o *Orchestrator) reserve(ctx context.Context, r *run, _ UploadRequest) error {
	outcome, record, err := o.ledger.ReserveInvoice(ctx, r.owner.ID, r.invoice)
	if err != nil {
		return newError(KindInternal, CodeInternal, "internal error", err)
	}
	if outcome == ledgerdomain.ReserveDuplicate {
		return newError(KindConflict, CodeInvoiceConflict, fmt.Sprintf("invoice %s was already uploaded", r.invoice), nil)
	}
	r.record = record
	return nil
}

// DedupChecked -> Rendered.
func (o *Orchestrator) render(_ context.Context, r *run, _ UploadRequest) error {
	feedbackURL := qrpage.FeedbackURL(o.feedbackBaseURL, r.owner.Username, r.invoice)
	page, err := o.renderer.BuildQrPage(r.invoice, feedbackURL)
	if err != nil {
		return newError(KindRender, CodeRenderFailed, "could not render the feedback page", err)
	}
	r.qrPage = page
	return nil
}

// Rendered -> Merged.
func (o *Orchestrator) merge(_ context.Context, r *run, req UploadRequest) error {
	merged, err := o.merger.Merge(req.Document, r.qrPage)
	if err != nil {
		return newError(KindMerge, CodeMergeFailed, "the uploaded document could not be processed", err)
	}
	r.merged = merged
	return nil
}

// Merged -> Stored.
func (o *Orchestrator) persist(ctx context.Context, r *run, _ UploadRequest) error {
	ref, err := o.store.Put(ctx, r.merged, artifactstore.OwnerFolder(r.owner.Username), artifactstore.ArtifactKey(r.invoice))
	if err != nil {
		return newError(KindStorage, CodeStorageFailed, "could not store the artifact, please retry", err)
	}
	r.ref = ref
	return nil
}

// Stored -> Recorded. A blob that cannot be recorded is removed again.
func (o *Orchestrator) record(ctx context.Context, r *run, _ UploadRequest) error {
	err := o.ledger.SetArtifactRef(ctx, r.record.ID, &ledgerdomain.ArtifactRef{Key: r.ref.Key, URL: r.ref.URL})
	if err == nil {
		return nil
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if outcome, delErr := o.store.Delete(cleanupCtx, r.ref.Key); delErr != nil {
		r.log.Warn("ingestion.cleanup.failed", zap.String("artifact_key", r.ref.Key), zap.Error(delErr))
	} else {
		r.log.Info("ingestion.cleanup.done", zap.String("artifact_key", r.ref.Key), zap.Stringer("outcome", outcome))
	}
	return newError(KindStorage, CodeStorageFailed, "could not record the artifact, please retry", err)
}

func (o *Orchestrator) notify(ctx context.Context, r *run, req UploadRequest) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := o.notifier.SendDocument(ctx,
		req.NotifyEmail,
		"Invoice "+r.invoice,
		"Your invoice "+r.invoice+" now includes a feedback page. Share it with your customer.",
		email.Attachment{
			Filename:    attachmentName(r.invoice),
			ContentType: mimePDF,
			Data:        r.merged,
		},
	)
	if err != nil {
		r.log.Warn("ingestion.notify.failed", zap.Error(err))
		return
	}
	r.log.Info("ingestion.notify.sent")
}

// attachmentName is the human-facing file name of the emailed artifact.
func attachmentName(invoiceID string) string {
	if s := slug.Make(invoiceID); s != "" {
		return "invoice-" + s + ".pdf"
	}
	return artifactstore.ArtifactKey(invoiceID) + ".pdf"
}

func detectMimeType(declared string, doc []byte) string {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(declared))
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(doc))
	}
	return strings.ToLower(mt)
}
