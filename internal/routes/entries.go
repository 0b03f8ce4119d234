package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/adfaaly/cashd/internal/engine"
)

// RegisterEntryRoutes wires the money-movement endpoints.
func RegisterEntryRoutes(r fiber.Router, h *engine.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/entries")
	if rateLimiter != nil {
		group.Use(rateLimiter)
	}
	group.Post("/deposit", h.Deposit)
	group.Post("/withdraw", h.Withdraw)
	group.Post("/transfer", h.Transfer)
	group.Post("/pay", h.Pay)
	r.Get("/entries/:entryId", h.Status)
}
