package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nvr-ai/go-emotion/analyzer"
	"github.com/nvr-ai/go-emotion/common"
	"github.com/nvr-ai/go-emotion/config"
	"github.com/nvr-ai/go-emotion/models"
	"github.com/nvr-ai/go-emotion/profiler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAnalyzer struct {
	result *analyzer.Result
	err    error
	input  string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, dataURL string) (*analyzer.Result, error) {
	f.input = dataURL
	return f.result, f.err
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Status  string          `json:"status"`
	Error   string          `json:"error"`
}

func newTestServer(a Analyzer) *Server {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig().HTTP
	cfg.MaxBodyBytes = 1 << 10
	return New(a, cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestHealth(t *testing.T) {
	rec, resp := do(t, newTestServer(&fakeAnalyzer{}), http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", resp.Status)
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestAnalyze_Success(t *testing.T) {
	fake := &fakeAnalyzer{result: &analyzer.Result{
		Emotion:       models.Neutral,
		Probabilities: models.NeutralProbabilities(),
		InferenceMs:   4.2,
		BBox:          &common.BoundingBox{X: 1, Y: 2, W: 30, H: 30},
	}}

	rec, resp := do(t, newTestServer(fake), http.MethodPost, "/api/emotion/analyze",
		`{"image":"data:image/png;base64,AAAA"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "data:image/png;base64,AAAA", fake.input)

	var data struct {
		Emotion     string             `json:"emotion"`
		Probs       map[string]float64 `json:"probs"`
		InferenceMs float64            `json:"inferenceMs"`
		BBox        map[string]int     `json:"bbox"`
		Metrics     map[string]float64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "neutral", data.Emotion)
	assert.Len(t, data.Probs, models.NumClasses)
	assert.Equal(t, 4.2, data.InferenceMs)
	assert.Equal(t, map[string]int{"x": 1, "y": 2, "w": 30, "h": 30}, data.BBox)
	assert.Equal(t, map[string]float64{"stress": 0, "calm": 100, "focus": 80}, data.Metrics)
}

func TestAnalyze_Failures(t *testing.T) {
	tests := []struct {
		name   string
		fake   *fakeAnalyzer
		body   string
		status int
	}{
		{
			name:   "unavailable",
			fake:   &fakeAnalyzer{err: errors.Wrap(common.ErrUnavailable, "model not loaded")},
			body:   `{"image":"aGVsbG8="}`,
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "unexpected error",
			fake:   &fakeAnalyzer{err: errors.New("boom")},
			body:   `{"image":"aGVsbG8="}`,
			status: http.StatusInternalServerError,
		},
		{
			name:   "missing image",
			fake:   &fakeAnalyzer{},
			body:   `{}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "blank image",
			fake:   &fakeAnalyzer{},
			body:   `{"image":"   "}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "not an image data URL",
			fake:   &fakeAnalyzer{},
			body:   `{"image":"data:text/plain;base64,aGVsbG8="}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "data URL without payload",
			fake:   &fakeAnalyzer{},
			body:   `{"image":"data:image/png;base64,"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed json",
			fake:   &fakeAnalyzer{},
			body:   `{"image":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "body too large",
			fake:   &fakeAnalyzer{},
			body:   `{"image":"` + strings.Repeat("A", 2<<10) + `"}`,
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, newTestServer(tt.fake), http.MethodPost, "/api/emotion/analyze", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, resp.Data)
		})
	}
}

func TestAnalyze_UnavailableHidesCause(t *testing.T) {
	fake := &fakeAnalyzer{err: errors.Wrap(common.ErrUnavailable, "/secret/path/model.onnx missing")}
	_, resp := do(t, newTestServer(fake), http.MethodPost, "/api/emotion/analyze", `{"image":"aGVsbG8="}`)

	assert.NotContains(t, resp.Error, "/secret/path")
}

func TestMetrics(t *testing.T) {
	s := newTestServer(&fakeAnalyzer{})

	rec, resp := do(t, s, http.MethodPost, "/api/emotion/metrics", `{"probs":{"neutral":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stress":0,"calm":100,"focus":80}`, string(resp.Data))

	rec, resp = do(t, s, http.MethodPost, "/api/emotion/metrics", `{"probs":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stress":25,"calm":50,"focus":50}`, string(resp.Data))
}

func TestMetrics_Invalid(t *testing.T) {
	s := newTestServer(&fakeAnalyzer{})

	for _, body := range []string{
		`{}`,
		`{"probs":{"boredom":0.5}}`,
		`{"probs":{"anger":1.5}}`,
		`{"probs":{"anger":-0.1}}`,
		`not json`,
	} {
		rec, resp := do(t, s, http.MethodPost, "/api/emotion/metrics", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.False(t, resp.Success, body)
	}
}

func TestStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := profiler.New(profiler.Options{}, zap.NewNop())
	fake := &fakeAnalyzer{result: &analyzer.Result{
		Emotion:       models.Neutral,
		Probabilities: models.NeutralProbabilities(),
		InferenceMs:   8,
	}}
	s := New(fake, config.DefaultConfig().HTTP, zap.NewNop(), WithProfiler(p))

	for i := 0; i < 3; i++ {
		rec, _ := do(t, s, http.MethodPost, "/api/emotion/analyze", `{"image":"aGVsbG8="}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats profiler.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, int64(3), stats.Operations["analyze"].Count)
	assert.Equal(t, 8.0, stats.Metrics["inference_ms"].Avg)
	assert.Equal(t, int64(3), stats.Metrics["no_face"].Count)
}

func TestNotFound(t *testing.T) {
	rec, resp := do(t, newTestServer(&fakeAnalyzer{}), http.MethodGet, "/api/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "route not found", resp.Error)
}

func TestRequestID_Echoed(t *testing.T) {
	s := newTestServer(&fakeAnalyzer{})
	id := uuid.New().String()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestRun_Shutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.HTTPConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}
	s := New(&fakeAnalyzer{}, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
