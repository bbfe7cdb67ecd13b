package handler

import (
	"accountanalytics/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(queryService *service.QueryService) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(queryService)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 分析查询
		analytics := api.Group("/analytics")
		{
			analytics.GET("/balance", h.ListByBalance)
			analytics.GET("/volatility", h.ListByVolatility)
			analytics.GET("/pattern", h.ListByPattern)
			analytics.GET("/category", h.ListByCategory)
			analytics.GET("/recent", h.ListRecent)
			analytics.GET("/:account_id", h.GetAnalytics)
		}

		// 运维入口
		admin := api.Group("/admin")
		{
			admin.POST("/cache/repair", h.RepairCache)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
