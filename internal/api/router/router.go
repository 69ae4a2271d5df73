package router

import (
	"context"
	"crypto/subtle"

	"resume-insight-go/internal/api/handler"
	"resume-insight-go/internal/api/middleware"
	"resume-insight-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册API路由
// 限流只挂在状态查询接口上；管理接口在配置了API密钥时启用keyauth保护
func RegisterRoutes(h *server.Hertz, cfg *config.Config, analysisHandler *handler.AnalysisHandler, rateLimiter *middleware.PollRateLimiter) {
	h.GET("/health", analysisHandler.Health)

	api := h.Group("/api/v1")

	api.POST("/uploads", analysisHandler.HandleUpload)
	api.POST("/analysis", analysisHandler.StartAnalysis)
	api.GET("/analysis/:analysis_id", rateLimiter.Middleware(), analysisHandler.GetAnalysis)

	admin := api.Group("/admin")
	if cfg.Server.APIKey != "" {
		admin.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:X-API-Key", ""),
			keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Server.APIKey)) == 1, nil
			}),
		))
	}
	admin.GET("/analysis/stale", analysisHandler.ListStale)
}
