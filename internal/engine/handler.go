package engine

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/adfaaly/cashd/internal/ledger"
	"github.com/adfaaly/cashd/internal/money"
	"github.com/adfaaly/cashd/internal/pin"
)

// Handler exposes the money-movement endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs an engine handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// submitRequest is the shared wire shape for all four entry kinds. Amounts
// travel as decimal strings and are converted to minor units at the boundary.
type submitRequest struct {
	PayerID        string `json:"payer_id"`
	PayeeID        string `json:"payee_id"`
	AgentID        string `json:"agent_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	PIN            string `json:"pin"`
	IdempotencyKey string `json:"idempotency_key"`
	LinkID         string `json:"link_id"`
}

// Deposit handles agent cash-in to a customer account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.submit(c, ledger.EntryDeposit)
}

// Withdraw handles agent cash-out from a customer account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.submit(c, ledger.EntryWithdrawal)
}

// Transfer handles account-to-account movement.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	return h.submit(c, ledger.EntryTransfer)
}

// Pay handles settlement of a merchant payment link.
func (h *Handler) Pay(c *fiber.Ctx) error {
	return h.submit(c, ledger.EntryPayment)
}

func (h *Handler) submit(c *fiber.Ctx, kind ledger.EntryKind) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	input := SubmitInput{
		Kind:           kind,
		Currency:       req.Currency,
		PIN:            req.PIN,
		IdempotencyKey: req.IdempotencyKey,
		LinkID:         req.LinkID,
	}

	var err error
	if input.PayerID, err = parseOptionalID(req.PayerID); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payer_id")
	}
	if input.PayeeID, err = parseOptionalID(req.PayeeID); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payee_id")
	}
	if input.AgentID, err = parseOptionalID(req.AgentID); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid agent_id")
	}

	if req.Amount != "" {
		amount, err := money.ParseAmount(req.Amount, req.Currency)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		input.Amount = amount
	}

	res, err := h.engine.Submit(c.UserContext(), input)
	if err != nil {
		return submitError(c, res, err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(resultBody(res, req.Currency))
}

// Status returns the current state of an entry.
func (h *Handler) Status(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("entryId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid entry id")
	}

	entry, err := h.engine.Status(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return fiber.NewError(http.StatusNotFound, "entry not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	body := fiber.Map{
		"entry_id":  entry.ID,
		"kind":      entry.Kind,
		"status":    entry.Status,
		"amount":    money.FormatMinor(entry.Amount, entry.Currency),
		"currency":  entry.Currency,
		"reference": entry.Reference,
	}
	if entry.Reason != "" {
		body["reason"] = entry.Reason
	}
	if entry.CompletedAt != nil {
		body["completed_at"] = entry.CompletedAt
	}
	return c.JSON(body)
}

// submitError maps a failed submission to an HTTP response. Declined entries
// are reported with their stored outcome rather than a bare error string.
func submitError(c *fiber.Ctx, res Result, err error) error {
	if res.Status == ledger.StatusFailed || res.Status == ledger.StatusRejected {
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"entry_id":  res.EntryID,
			"status":    res.Status,
			"reference": res.Reference,
			"reason":    res.Reason,
			"error":     declineMessage(err),
		})
	}

	switch {
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOperationInProgress):
		return fiber.NewError(http.StatusConflict, "operation already in progress")
	case errors.Is(err, ledger.ErrLinkNotFound):
		return fiber.NewError(http.StatusNotFound, "payment link not found")
	case errors.Is(err, ledger.ErrLinkAlreadyConsumed),
		errors.Is(err, ledger.ErrLinkExpired),
		errors.Is(err, ledger.ErrLinkCancelled):
		return fiber.NewError(http.StatusGone, declineMessage(err))
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func declineMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ledger.ErrAccountBlocked):
		return "account blocked"
	case errors.Is(err, ledger.ErrLimitExceeded):
		return "agent daily limit exceeded"
	case errors.Is(err, pin.ErrInvalidPIN):
		return "invalid PIN"
	case errors.Is(err, pin.ErrAccountLocked):
		return "account locked after repeated PIN failures"
	case errors.Is(err, pin.ErrPINNotSet):
		return "PIN not set"
	case errors.Is(err, ledger.ErrLinkAlreadyConsumed):
		return "payment link already consumed"
	case errors.Is(err, ledger.ErrLinkExpired):
		return "payment link expired"
	case errors.Is(err, ledger.ErrLinkCancelled):
		return "payment link cancelled"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "account not found"
	default:
		return err.Error()
	}
}

func resultBody(res Result, currency string) fiber.Map {
	balances := make(map[string]string, len(res.Balances))
	for id, amount := range res.Balances {
		balances[id.String()] = money.FormatMinor(amount, currency)
	}
	return fiber.Map{
		"entry_id":  res.EntryID,
		"status":    res.Status,
		"reference": res.Reference,
		"balances":  balances,
		"duplicate": res.Duplicate,
	}
}

func parseOptionalID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}
