package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "outreach/controllers"
	"outreach/middleware"
	"outreach/repository"
)

type Options struct {
	JWTSecret   string
	RateLimit   int // requests per minute per user
	RateStorage fiber.Storage
}

func SetupRoutes(app *fiber.App, users repository.UserStore, campaigns *controller.CampaignController, hub *controller.ProgressHub, opts Options) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	protected := middleware.Protected(opts.JWTSecret, users)

	api := app.Group("/api/v1", protected,
		middleware.RateLimiter(opts.RateLimit, time.Minute, opts.RateStorage),
		logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}),
	)

	campaignRoutes := api.Group("/campaigns")
	campaignRoutes.Get("/:id/stats", campaigns.GetCampaignStats)
	campaignRoutes.Get("/:id/schedule", campaigns.GetScheduleStatus)
	campaignRoutes.Post("/:id/reschedule", campaigns.RescheduleCampaign)

	// Cycles cover every tenant's campaigns and mailboxes.
	cycles := api.Group("/cycles", middleware.AdminOnly())
	cycles.Post("/send", campaigns.RunSendCycle)
	cycles.Post("/replies", campaigns.RunReplyCycle)

	// Authenticated by the /api/v1 group; browsers pass the token as ?token=.
	ws := api.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/progress", websocket.New(hub.HandleCampaignProgressWS))
}
