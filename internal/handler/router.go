package handler

import (
	"msmeconnect/internal/config"
	"msmeconnect/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, ledger *service.LedgerService, locker service.Locker, cfg *config.Config) (*gin.Engine, error) {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	h, err := NewHandler(db, ledger, locker, cfg)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware())

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.POST("/open", h.OpenAccount)
			account.GET("/balance", h.GetBalance)
			account.GET("/entries", h.ListEntries)
			account.GET("/reconcile", h.Reconcile)
		}

		pay := api.Group("/pay")
		{
			pay.POST("/wallet", h.PayWithWallet)
			pay.POST("/gateway", h.RecordGatewayPayment)
			pay.GET("/list", h.ListPayments)
		}

		redemption := api.Group("/redemption")
		{
			redemption.POST("/request", h.RequestRedemption)
			redemption.GET("/list", h.ListRedemptions)
			redemption.GET("/detail", h.GetRedemption)
		}

		api.POST("/referral/reward", h.RewardReferral)

		admin := api.Group("/admin", AdminAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
		{
			admin.GET("/redemptions/pending", h.ListPendingRedemptions)
			admin.POST("/redemptions/resolve", h.ResolveRedemption)
			admin.GET("/redemptions/export", h.ExportRedemptions)
			admin.POST("/credit", h.Credit)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}
