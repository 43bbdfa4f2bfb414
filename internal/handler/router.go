package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dianping/shophub/internal/config"
	"dianping/shophub/internal/handler/middleware"
	jwtpkg "dianping/shophub/pkg/jwt"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *jwtpkg.Manager,
	shopHandler *ShopHandler,
	voucherHandler *VoucherHandler,
	orderHandler *VoucherOrderHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Public routes
	public := r.Group("/api/v1")
	{
		public.GET("/shops/:id", shopHandler.Get)
		public.GET("/shops/:id/hot", shopHandler.GetHot)
		public.GET("/vouchers/seckill/:id", voucherHandler.GetSeckill)
		public.GET("/vouchers/seckill/:id/stats", voucherHandler.Stats)
	}

	// Protected routes
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(jwtManager))
	{
		protected.POST("/voucher-orders/seckill/:id", orderHandler.Seckill)
	}

	// Admin routes (JWT + admin check)
	admin := r.Group("/api/v1")
	admin.Use(middleware.JWTAuth(jwtManager))
	admin.Use(middleware.AdminAuth(cfg.Admin.UserIDs))
	{
		admin.PUT("/shops/:id", shopHandler.Update)
		admin.POST("/vouchers/seckill", voucherHandler.AddSeckill)
	}

	return r
}
