package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tbkb-submission-go/internal/middleware"
)

// RegisterRoutes 注册全部 API 路由。auth 是认证中间件，管理员路由在其后追加管理员检查。
func RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc, packages *PackageHandler, review *ReviewHandler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := r.Group("/api/v1")
	{
		pkgs := apiV1.Group("/packages")
		pkgs.Use(auth)
		{
			pkgs.POST("", packages.CreatePackage)
			pkgs.GET("/:id", packages.GetPackage)
			pkgs.POST("/:id/match", packages.RunMatch)
			pkgs.POST("/:id/submit", packages.Submit)
			pkgs.POST("/:id/aliases", packages.AddAlias)
			pkgs.PATCH("/:id/aliases/:aliasId", packages.RenameAlias)
			pkgs.POST("/:id/aliases/:aliasId/mic-tests", packages.AddMICTest)
			pkgs.POST("/:id/aliases/:aliasId/pds-tests", packages.AddPDSTest)
			pkgs.POST("/:id/sequencing-files", packages.AttachSequencingFile)
			pkgs.DELETE("/:id/sequencing-files/:linkId", packages.DetachSequencingFile)
			pkgs.GET("/:id/sequencing-files/:linkId/download", packages.DownloadSequencingFile)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(auth, middleware.AdminAuthMiddleware())
		{
			admin.POST("/packages/:id/approve", review.Approve)
			admin.POST("/packages/:id/reject", review.Reject)
			admin.POST("/packages/:id/mark-changed", review.MarkChanged)
		}
	}
}
