// Package api exposes the detection engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/metrics"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/storage"
)

// Detector is the analysis surface the API fronts.
type Detector interface {
	AnalyzeTransaction(ctx context.Context, tx *models.TransactionEvent) (*models.DetectionResult, error)
	AnalyzeBatch(ctx context.Context, txs []*models.TransactionEvent) ([]*models.DetectionResult, error)
	Reload(cfg *config.RuleSet)
	ActiveRules() []string
	Stats() detection.DetectorStats
}

// AlertStore is the alert and blacklist persistence surface.
type AlertStore interface {
	Alerts(ctx context.Context, filter storage.AlertFilter) ([]models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error
	AddBlacklistEntry(ctx context.Context, address, reason, source string) error
	RemoveBlacklistEntry(ctx context.Context, address string) error
	ListBlacklist(ctx context.Context) ([]storage.BlacklistEntry, error)
}

// DenylistPublisher mirrors blacklist changes to the shared set.
type DenylistPublisher interface {
	Publish(ctx context.Context, address string) error
	Retract(ctx context.Context, address string) error
}

// RulesLoader re-reads the rule configuration from its source.
type RulesLoader func() (*config.RuleSet, error)

// Server is the HTTP front of the engine.
type Server struct {
	cfg       config.ServerConfig
	detector  Detector
	store     AlertStore
	denylist  DenylistPublisher
	metrics   *metrics.Metrics
	loadRules RulesLoader
	logger    *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

// New assembles the router. store, denylist, metrics and loadRules may be
// nil; the endpoints needing them answer 503.
func New(cfg config.ServerConfig, detector Detector, store AlertStore, denylist DenylistPublisher, m *metrics.Metrics, loadRules RulesLoader, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if logger != nil {
		engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	}
	if cfg.CORSEnabled {
		engine.Use(cors.Default())
	}

	s := &Server{
		cfg:       cfg,
		detector:  detector,
		store:     store,
		denylist:  denylist,
		metrics:   m,
		loadRules: loadRules,
		logger:    logger,
		engine:    engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/analyze", s.analyze)
	v1.POST("/analyze/batch", s.analyzeBatch)
	v1.GET("/stats", s.stats)
	v1.GET("/rules", s.rules)
	v1.POST("/rules/reload", s.reloadRules)
	v1.GET("/alerts", s.listAlerts)
	v1.PATCH("/alerts/:id/status", s.updateAlertStatus)
	v1.GET("/blacklist", s.listBlacklist)
	v1.POST("/blacklist", s.addBlacklist)
	v1.DELETE("/blacklist/:address", s.removeBlacklist)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context ends, then drains for up to ten seconds.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
