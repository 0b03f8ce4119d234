package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/adfaaly/cashd/internal/account"
)

// RegisterAccountRoutes wires account provisioning endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/:accountId", h.Get)
	r.Put("/accounts/:accountId/pin", h.ChangePIN)
	r.Post("/accounts/:accountId/block", h.Block)
	r.Post("/accounts/:accountId/unblock", h.Unblock)
}
