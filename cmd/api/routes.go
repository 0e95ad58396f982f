package main

import (
	"database/sql"
	"net/http"
	"time"

	"marketplace-platform/internal/httpapi"
	"marketplace-platform/internal/rbac"
	"marketplace-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Gateway webhook (public; authenticated by HMAC signature).
	r.POST("/webhooks/paystack", h.GatewayWebhook)

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/wallet/balance", h.GetWalletBalance)

		v1.POST("/deposits", h.CreateDeposit)
		v1.POST("/withdrawals", h.CreateWithdrawal)
		v1.POST("/bank/resolve", h.ResolveBank)

		v1.GET("/transactions", h.ListTransactions)
		v1.GET("/transactions/:reference/verify", h.VerifyTransaction)

		v1.GET("/providers/:id/services", h.ListProviderServices)
		services := v1.Group("/services")
		services.Use(rbac.RequireAnyRole(rbac.RoleProvider))
		{
			services.POST("", h.PublishOffering)
			services.POST("/:id/retire", h.RetireOffering)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/spend", h.SpendReport)
			reports.GET("/bookings", h.BookingsReport)
		}

		bookings := v1.Group("/bookings")
		{
			bookings.POST("", rbac.RequireAnyRole(rbac.RoleRequester), h.CreateBooking)
			bookings.GET("", h.ListBookings)
			bookings.GET("/:id", h.GetBooking)
			bookings.POST("/:id/accept", rbac.RequireAnyRole(rbac.RoleProvider), h.AcceptBooking)
			bookings.POST("/:id/cancel", h.CancelBooking)
			bookings.POST("/:id/done", rbac.RequireAnyRole(rbac.RoleProvider), h.CompleteBooking)
			bookings.POST("/:id/payments", rbac.RequireAnyRole(rbac.RoleRequester), h.PayBooking)
		}
	}
}
