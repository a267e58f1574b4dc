package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/go-emotion/analyzer"
	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/metrics"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AnalyzeRequest is the body of POST /api/emotion/analyze.
type AnalyzeRequest struct {
	// Image is a data URL or bare base64 encoded frame.
	Image string `json:"image" binding:"required,frame"`
}

// MetricsRequest is the body of POST /api/emotion/metrics.
type MetricsRequest struct {
	Probabilities models.Probabilities `json:"probs" binding:"required,dive,keys,emotion,endkeys,gte=0,lte=1"`
}

// AnalyzeResponse is the analysis plus the derived wellbeing metrics.
type AnalyzeResponse struct {
	*analyzer.Result
	Metrics metrics.Triple `json:"metrics"`
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: message})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, envelope{
		Success: true,
		Status:  "healthy",
		Message: "emotion service is running",
	})
}

func (s *Server) analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, bindError(err))
		return
	}

	done := s.profiler.StartOperation("analyze")
	result, err := s.analyzer.Analyze(c.Request.Context(), req.Image)
	done()
	if err != nil {
		s.profiler.RecordMetric("analyze_failures", 1)
		s.log.Warn("emotion analysis unavailable",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		if errors.Is(err, common.ErrUnavailable) {
			fail(c, http.StatusServiceUnavailable, "emotion analysis unavailable")
			return
		}
		fail(c, http.StatusInternalServerError, "emotion analysis failed")
		return
	}

	s.profiler.RecordMetric("inference_ms", result.InferenceMs)
	if result.BBox == nil {
		s.profiler.RecordMetric("no_face", 1)
	}

	respond(c, http.StatusOK, AnalyzeResponse{
		Result:  result,
		Metrics: metrics.FromResult(result),
	})
}

func (s *Server) metrics(c *gin.Context) {
	var req MetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, bindError(err))
		return
	}

	respond(c, http.StatusOK, metrics.FromResult(&analyzer.Result{Probabilities: req.Probabilities}))
}

func (s *Server) stats(c *gin.Context) {
	respond(c, http.StatusOK, s.profiler.Snapshot())
}

func notFound(c *gin.Context) {
	fail(c, http.StatusNotFound, "route not found")
}
