package account

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
	"github.com/adfaaly/cashd/internal/pin"
)

// Handler exposes account provisioning endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	OwnerID    string `json:"owner_id"`
	Kind       string `json:"kind"`
	Currency   string `json:"currency"`
	PIN        string `json:"pin"`
	DailyLimit string `json:"daily_limit"`
}

// Create provisions a new account.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid owner_id")
	}

	input := CreateInput{
		OwnerID:  ownerID,
		Kind:     ledger.AccountKind(req.Kind),
		Currency: req.Currency,
		PIN:      req.PIN,
	}
	if req.DailyLimit != "" {
		limit, err := money.ParseAmount(req.DailyLimit, req.Currency)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		input.DailyLimit = limit
	}

	created, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrAccountExists):
			return fiber.NewError(http.StatusConflict, "account already exists")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(accountBody(created))
}

// Get returns a single account.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}

	found, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(accountBody(found))
}

type changePINRequest struct {
	CurrentPIN string `json:"current_pin"`
	NewPIN     string `json:"new_pin"`
}

// ChangePIN rotates the account PIN after verifying the current one.
func (h *Handler) ChangePIN(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}

	var req changePINRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	if err := h.service.ChangePIN(c.UserContext(), id, req.CurrentPIN, req.NewPIN); err != nil {
		switch {
		case errors.Is(err, pin.ErrInvalidPIN):
			return fiber.NewError(http.StatusUnauthorized, "invalid PIN")
		case errors.Is(err, pin.ErrAccountLocked):
			return fiber.NewError(http.StatusLocked, "account locked after repeated PIN failures")
		case errors.Is(err, pin.ErrPINNotSet):
			return fiber.NewError(http.StatusConflict, "PIN not set")
		case errors.Is(err, ErrValidation):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "account not found")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.SendStatus(http.StatusNoContent)
}

// Block freezes an account.
func (h *Handler) Block(c *fiber.Ctx) error {
	return h.setStatus(c, h.service.Block)
}

// Unblock reactivates an account.
func (h *Handler) Unblock(c *fiber.Ctx) error {
	return h.setStatus(c, h.service.Unblock)
}

func (h *Handler) setStatus(c *fiber.Ctx, op func(context.Context, uuid.UUID) error) error {
	id, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}
	if err := op(c.UserContext(), id); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

func accountBody(a ledger.Account) fiber.Map {
	body := fiber.Map{
		"account_id": a.ID,
		"owner_id":   a.OwnerID,
		"kind":       a.Kind,
		"currency":   a.Currency,
		"status":     a.Status,
		"balance":    money.FormatMinor(a.Balance, a.Currency),
		"created_at": a.CreatedAt,
	}
	if a.Kind == ledger.KindAgent {
		body["daily_limit"] = money.FormatMinor(a.DailyLimit, a.Currency)
		body["daily_used"] = money.FormatMinor(a.DailyUsed, a.Currency)
	}
	return body
}
