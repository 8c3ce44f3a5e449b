package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/feedlink/internal/config"
	coupondomain "github.com/smallbiznis/feedlink/internal/coupon/domain"
	feedbackdomain "github.com/smallbiznis/feedlink/internal/feedback/domain"
	"github.com/smallbiznis/feedlink/internal/ingestion"
	"github.com/smallbiznis/feedlink/internal/logger"
	obsmetrics "github.com/smallbiznis/feedlink/internal/observability/metrics"
	obstracing "github.com/smallbiznis/feedlink/internal/observability/tracing"
	"github.com/smallbiznis/feedlink/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(provideUploader),
	fx.Provide(provideRateLimiter),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// Uploader runs the ingestion pipeline.
type Uploader interface {
	Upload(ctx context.Context, req ingestion.UploadRequest) (ingestion.UploadResult, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, callerKey string) (ratelimit.Decision, error)
}

func provideUploader(o *ingestion.Orchestrator) Uploader { return o }

func provideRateLimiter(l *ratelimit.Limiter) RateLimiter { return l }

type EngineParams struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Invoice ids may carry percent-encoded slashes; match on the raw path and unescape params.
	r.UseRawPath = true
	r.UnescapePathValues = true
	if p.Config.UploadMaxBytes > 0 {
		r.MaxMultipartMemory = p.Config.UploadMaxBytes
	}

	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(p.Log.Named("http"), logger.MiddlewareConfig{
		Debug:           !p.Config.IsProduction(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(p.Metrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := promhttp.Handler()
	if p.Gatherer != nil {
		handler = promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(handler))

	return r
}

type Params struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	Log      *zap.Logger
	Uploader Uploader
	Feedback feedbackdomain.Service
	Coupons  coupondomain.Service
	Limiter  RateLimiter         `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	uploader Uploader
	feedback feedbackdomain.Service
	coupons  coupondomain.Service
	limiter  RateLimiter
	metrics  *obsmetrics.Metrics
}

func NewServer(p Params) *Server {
	return &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("http.server"),
		uploader: p.Uploader,
		feedback: p.Feedback,
		coupons:  p.Coupons,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.POST("/invoices/upload", s.RateLimit("upload"), s.UploadInvoice)

	owners := api.Group("/owners/:username/invoices/:invoiceId")
	owners.PUT("/coupon", s.AttachCoupon)
	owners.POST("/coupon/suggestion", s.SuggestCouponDescription)

	s.engine.POST("/feedback/:username/:invoiceId", s.RateLimit("feedback"), s.SubmitFeedback)
}

func (s *Server) Handler() http.Handler { return s.engine }

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http.server.listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
