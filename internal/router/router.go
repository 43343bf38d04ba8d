package router

import (
	"strings"

	"github.com/Do1K/b2b-point-service/internal/config"
	partnerhandlers "github.com/Do1K/b2b-point-service/internal/http/handlers/partner"
	"github.com/Do1K/b2b-point-service/internal/http/response"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/metrics"
	"github.com/Do1K/b2b-point-service/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	partnerHandler := partnerhandlers.New(c)
	issueRule := RateLimitRule{
		Prefix:        c.Keys.RateLimit("coupon_issue"),
		WindowSeconds: cfg.Security.IssueRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.IssueRateLimit.MaxRequests,
		MessageKey:    "error.too_many_requests",
	}
	issueLimiter := RateLimitMiddleware(c.Redis, issueRule, KeyByPartnerAndJSONField("user_id"))

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 合作方接口（X-API-KEY）
		partner := apiV1.Group("/partner")
		partner.Use(PartnerAuthMiddleware(c.PartnerService))
		{
			partner.POST("/coupon-templates", partnerHandler.CreateCouponTemplate)
			partner.GET("/coupon-templates/:id/admission", partnerHandler.GetAdmissionStatus)
			partner.POST("/coupons/issue", issueLimiter, partnerHandler.IssueCoupon)
			partner.POST("/coupons/issue-async", issueLimiter, partnerHandler.IssueCouponAsync)
			partner.GET("/users/:user_id/coupons", partnerHandler.ListUserCoupons)
			partner.POST("/coupons/:code/use", partnerHandler.UseCoupon)
		}
	}

	if cfg.Metrics.Enabled {
		path := strings.TrimSpace(cfg.Metrics.Path)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(metrics.Handler()))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	return r
}
