package handler_test

import (
	"bytes"
	"testing"

	"resume-insight-go/internal/api/handler"
	"resume-insight-go/internal/api/middleware"
	"resume-insight-go/internal/api/router"
	"resume-insight-go/internal/config"
	"resume-insight-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
)

// newDegradedEngine 组装一个对象存储不可用的服务实例
// 存储管理器里只有空适配器，命中校验之后的路径不会被执行
func newDegradedEngine() *server.Hertz {
	cfg := config.DefaultConfig()
	store := &storage.Storage{}

	analysisHandler := handler.NewAnalysisHandler(cfg, store, nil)
	rateLimiter := middleware.NewPollRateLimiter(cfg.RateLimit, nil)

	h := server.Default()
	router.RegisterRoutes(h, cfg, analysisHandler, rateLimiter)
	return h
}

func postJSON(h *server.Hertz, path, body string) *ut.ResponseRecorder {
	return ut.PerformRequest(h.Engine, "POST", path,
		&ut.Body{Body: bytes.NewBufferString(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"},
	)
}

func TestHandleUploadRejectsWhenObjectStoreDown(t *testing.T) {
	h := newDegradedEngine()

	// 降级模式下上传必须拒绝而不是崩溃
	w := ut.PerformRequest(h.Engine, "POST", "/api/v1/uploads", nil)
	assert.Equal(t, 503, w.Result().StatusCode())
}

func TestStartAnalysisRejectsEmptySourceRef(t *testing.T) {
	h := newDegradedEngine()

	w := postJSON(h, "/api/v1/analysis", `{"source_ref": "  "}`)
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestStartAnalysisRejectsOversizedSourceRef(t *testing.T) {
	h := newDegradedEngine()

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	w := postJSON(h, "/api/v1/analysis", `{"source_ref": "`+string(long)+`"}`)
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestStartAnalysisRejectsMalformedEmail(t *testing.T) {
	h := newDegradedEngine()

	w := postJSON(h, "/api/v1/analysis", `{"source_ref": "upload-1", "notify_email": "不是邮箱"}`)
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestGetAnalysisMalformedUUIDReturns404(t *testing.T) {
	h := newDegradedEngine()

	w := ut.PerformRequest(h.Engine, "GET", "/api/v1/analysis/not-a-uuid", nil)
	assert.Equal(t, 404, w.Result().StatusCode())
}
