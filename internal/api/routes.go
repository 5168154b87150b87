package api

import (
	"keyshop-api/internal/config"
	"keyshop-api/internal/middleware"
	"keyshop-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler holds the services behind the HTTP API.
type Handler struct {
	cfg          *config.Config
	gateway      services.PaymentGateway
	roblox       services.RobloxVerifier
	fulfillment  *services.FulfillmentService
	verification *services.VerificationService
	tickets      *services.TicketService
	sessions     *services.SessionService
	auth         *middleware.Auth
}

type Deps struct {
	Config       *config.Config
	Gateway      services.PaymentGateway
	Roblox       services.RobloxVerifier
	Fulfillment  *services.FulfillmentService
	Verification *services.VerificationService
	Tickets      *services.TicketService
	Sessions     *services.SessionService
	Auth         *middleware.Auth
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:          d.Config,
		gateway:      d.Gateway,
		roblox:       d.Roblox,
		fulfillment:  d.Fulfillment,
		verification: d.Verification,
		tickets:      d.Tickets,
		sessions:     d.Sessions,
		auth:         d.Auth,
	}
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	RegisterValidators()

	limit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerMinute: h.cfg.PublicRatePerMinute,
		Burst:             h.cfg.PublicRateBurst,
	})

	api := r.Group("/api")
	{
		api.GET("/pricing", h.GetPricing)

		// Passwordless customer login
		auth := api.Group("/auth")
		auth.Use(limit)
		{
			auth.POST("/send-code", h.SendVerificationCode)
			auth.POST("/verify-code", h.VerifyCode)
		}

		orders := api.Group("/orders")
		orders.Use(h.auth.ClientRequired())
		{
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
		}

		paypal := api.Group("/paypal")
		paypal.Use(limit)
		{
			paypal.POST("/create-order", h.CreatePayPalOrder)
			paypal.POST("/capture-order", h.CapturePayPalOrder)
		}

		api.POST("/roblox/verify-purchase", limit, h.VerifyRobloxPurchase)

		tickets := api.Group("/tickets")
		{
			tickets.POST("", limit, h.CreateTicket)
			tickets.GET("", h.ListTickets)
			tickets.GET("/:id", h.GetTicket)
			tickets.POST("/:id/reply", limit, h.ReplyToTicket)
		}

		api.POST("/admin/login", limit, h.AdminLogin)

		admin := api.Group("/admin")
		admin.Use(h.auth.AdminRequired())
		{
			admin.GET("/tickets", h.AdminListTickets)
			admin.GET("/tickets/:id", h.AdminGetTicket)
			admin.PATCH("/tickets/:id", h.AdminUpdateTicket)
			admin.GET("/payments/:id", h.AdminGetPayment)
			admin.POST("/payments/:id/reissue", h.AdminReissue)
			admin.PUT("/payments/:id/keys", h.AdminSetKeys)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "keyshop-api",
		})
	})
}
