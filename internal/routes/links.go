package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/adfaaly/cashd/internal/paylink"
)

// RegisterLinkRoutes wires merchant payment-link endpoints.
func RegisterLinkRoutes(r fiber.Router, h *paylink.Handler) {
	r.Post("/links", h.Create)
	r.Get("/links/:linkId", h.Get)
	r.Post("/links/:linkId/cancel", h.Cancel)
}
