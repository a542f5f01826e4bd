package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading_assistant/internal/logger"
	"trading_assistant/internal/models"
	"trading_assistant/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Decisions is the read side of the decision log.
type Decisions interface {
	ListDecisions(ctx context.Context, f storage.DecisionFilter) ([]models.Decision, error)
}

type FeedbackSubmitter interface {
	Submit(ctx context.Context, decisionID, verdict, notes string, now time.Time) (*models.Decision, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (*models.Decision, error)
}

type LearningSource interface {
	Active(ctx context.Context) (*models.LearningContext, bool, error)
}

// Server exposes decisions, feedback and learning state over HTTP.
type Server struct {
	decisions Decisions
	feedback  FeedbackSubmitter
	analyzer  Analyzer
	learning  LearningSource
	now       func() time.Time
}

func New(decisions Decisions, feedback FeedbackSubmitter, analyzer Analyzer, learning LearningSource) *Server {
	return &Server{decisions: decisions, feedback: feedback, analyzer: analyzer, learning: learning, now: time.Now}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/decisions", s.handleDecisionsList)
	api.POST("/decisions/:id/feedback", s.handleFeedback)
	api.POST("/analyze/:symbol", s.handleAnalyze)
	api.GET("/learning/active", s.handleLearningActive)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("http request")
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleDecisionsList(c *gin.Context) {
	f := storage.DecisionFilter{Symbol: strings.ToUpper(c.Query("symbol")), Limit: 50}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	list, err := s.decisions.ListDecisions(c.Request.Context(), f)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []models.Decision{}
	}
	c.JSON(http.StatusOK, list)
}

type feedbackRequest struct {
	Verdict string `json:"verdict" binding:"required"`
	Notes   string `json:"notes"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	d, err := s.feedback.Submit(c.Request.Context(), c.Param("id"), req.Verdict, req.Notes, s.now())
	switch {
	case errors.Is(err, models.ErrInvalidVerdict):
		writeError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, models.ErrDecisionNotFound):
		writeError(c, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if s.analyzer == nil {
		writeError(c, http.StatusServiceUnavailable, errors.New("analysis unavailable"))
		return
	}
	d, err := s.analyzer.Analyze(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
	if err != nil {
		writeError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) handleLearningActive(c *gin.Context) {
	lc, ok, err := s.learning.Active(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, errors.New("no active learning context"))
		return
	}
	c.JSON(http.StatusOK, lc)
}
