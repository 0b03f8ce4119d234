package paylink

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
)

// Handler exposes merchant payment-link endpoints.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a payment-link handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

type createRequest struct {
	MerchantID  string `json:"merchant_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	ExpiresIn   string `json:"expires_in"`
}

// Create issues a new payment link. Amount is optional; open links let the
// payer choose the amount at settlement time.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid merchant_id")
	}

	input := CreateInput{
		MerchantID:  merchantID,
		Currency:    req.Currency,
		Description: req.Description,
	}
	if req.Amount != "" {
		amount, err := money.ParseAmount(req.Amount, req.Currency)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		input.Amount = &amount
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return fiber.NewError(http.StatusBadRequest, "invalid expires_in")
		}
		input.ExpiresIn = d
	}

	link, err := h.resolver.Create(c.UserContext(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotMerchant),
			errors.Is(err, money.ErrUnsupportedCurrency),
			errors.Is(err, money.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "merchant not found")
		case errors.Is(err, ledger.ErrAccountBlocked):
			return fiber.NewError(http.StatusForbidden, "merchant account blocked")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(linkBody(link))
}

// Get resolves a link to its current state, surfacing dead links with their
// specific reason.
func (h *Handler) Get(c *fiber.Ctx) error {
	link, err := h.resolver.Resolve(c.UserContext(), c.Params("linkId"))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrLinkNotFound):
			return fiber.NewError(http.StatusNotFound, "payment link not found")
		case errors.Is(err, ledger.ErrLinkAlreadyConsumed):
			return fiber.NewError(http.StatusGone, "payment link already consumed")
		case errors.Is(err, ledger.ErrLinkExpired):
			return fiber.NewError(http.StatusGone, "payment link expired")
		case errors.Is(err, ledger.ErrLinkCancelled):
			return fiber.NewError(http.StatusGone, "payment link cancelled")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(linkBody(link))
}

// Cancel voids an active link.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	if err := h.resolver.Cancel(c.UserContext(), c.Params("linkId")); err != nil {
		switch {
		case errors.Is(err, ledger.ErrLinkNotFound):
			return fiber.NewError(http.StatusNotFound, "payment link not found")
		case errors.Is(err, ledger.ErrLinkAlreadyConsumed),
			errors.Is(err, ledger.ErrLinkExpired),
			errors.Is(err, ledger.ErrLinkCancelled):
			return fiber.NewError(http.StatusConflict, "payment link is not active")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.SendStatus(http.StatusNoContent)
}

func linkBody(link ledger.PaymentLink) fiber.Map {
	body := fiber.Map{
		"link_id":     link.LinkID,
		"merchant_id": link.MerchantID,
		"currency":    link.Currency,
		"status":      link.Status,
		"created_at":  link.CreatedAt,
	}
	if link.Amount != nil {
		body["amount"] = money.FormatMinor(*link.Amount, link.Currency)
	}
	if link.Description != "" {
		body["description"] = link.Description
	}
	if link.ExpiresAt != nil {
		body["expires_at"] = link.ExpiresAt
	}
	if link.EntryID != nil {
		body["entry_id"] = link.EntryID
	}
	return body
}
