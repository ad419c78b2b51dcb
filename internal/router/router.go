package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/yearbookpress/internal/config"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/handler"
	"github.com/yearbookpress/internal/pdf"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(cfg config.AppConfig, raster pdf.Rasterizer) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("yearbookpress_session", store))

	api := handler.NewAPI(db.DB, cfg.UploadDir, cfg.UploadURLPath, raster)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// 页面图片通过一次性令牌访问，真实路径不对外暴露
	r.GET("/pages/view/:token", api.ViewPage)

	// 购买者视角只读接口
	r.GET("/api/yearbooks/:id/view", api.ViewYearbook)

	r.POST("/api/login", handler.Login)
	r.POST("/api/logout", handler.Logout)

	// 需要认证的编辑接口
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/yearbooks", api.ListYearbooks)
		auth.POST("/yearbooks", api.CreateYearbook)
		auth.GET("/yearbooks/:id", api.GetYearbook)
		auth.POST("/yearbooks/:id/setup", api.SetupYearbook)
		auth.GET("/yearbooks/:id/summary", api.YearbookSummary)
		auth.POST("/yearbooks/:id/publish", api.PublishYearbook)

		auth.POST("/yearbooks/:id/drafts/save", api.SaveDrafts)
		auth.POST("/yearbooks/:id/drafts/discard", api.DiscardDrafts)
		auth.POST("/yearbooks/:id/drafts/touch", api.TouchDraft)

		auth.PUT("/yearbooks/:id/price", api.SetPrice)
		auth.GET("/yearbooks/:id/price/history", api.PriceHistory)
		auth.GET("/yearbooks/:id/price/can-increase", api.CanIncreasePrice)

		auth.GET("/yearbooks/:id/pages", api.ListPages)
		auth.POST("/yearbooks/:id/pages", api.UploadPage)
		auth.DELETE("/yearbooks/:id/pages", api.ClearPages)
		auth.DELETE("/pages/:id", api.DeletePage)
		auth.PATCH("/pages/:id/reorder", api.ReorderPage)
		auth.POST("/pages/swap", api.SwapPages)

		auth.GET("/yearbooks/:id/toc", api.ListTOC)
		auth.POST("/yearbooks/:id/toc", api.CreateTOCEntry)
		auth.PUT("/toc/:id", api.UpdateTOCEntry)
		auth.DELETE("/toc/:id", api.DeleteTOCEntry)

		auth.DELETE("/pdf-batches/:batchId", api.DeletePDFBatch)

		auth.GET("/settings", api.GetSystemSettings)
		auth.PUT("/settings", api.UpdateSystemSettings)
	}

	return r
}
