package router

import (
	"github.com/gin-gonic/gin"

	"github.com/Akinlua/autods/internal/controller"
	"github.com/Akinlua/autods/internal/middleware"
)

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine,
	authCtrl *controller.AuthController,
	syncCtrl *controller.SyncController,
	listingCtrl *controller.ListingController) {

	api := r.Group("/api")
	{
		// auth 运维登录与 OAuth 授权
		auth := api.Group("/auth")
		{
			// POST /api/auth/login
			auth.POST("/login", authCtrl.Login)
		}

		oauth := api.Group("/oauth")
		{
			// GET /api/oauth/authorize
			oauth.GET("/authorize", authCtrl.Authorize)

			// GET /api/oauth/callback
			// eBay 回调地址，必须可匿名访问
			oauth.GET("/callback", authCtrl.Callback)
		}

		// jobs 任务触发，需要运维 Token
		jobs := api.Group("/jobs", middleware.JWTAuth())
		{
			jobs.POST("/listing/run", syncCtrl.RunListing)
			jobs.POST("/removal/run", syncCtrl.RunStockScan)
			jobs.POST("/removal/scheduled/run", syncCtrl.RunScheduledRemoval)
			jobs.POST("/messages/run", syncCtrl.RunMessages)
		}

		// 状态与记录查询
		api.GET("/status", middleware.JWTAuth(), syncCtrl.Status)
		api.GET("/listings", middleware.JWTAuth(), listingCtrl.GetListings)
	}
}
