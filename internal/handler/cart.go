package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

// CartHandler exposes the caller's cart: reserving and releasing tickets,
// reading the cart status and checking out.  All routes run behind
// JWTAuth and RequireRole(COLLABORATOR).
type CartHandler struct {
	Carts *service.CartManager
	Log   *logrus.Logger
}

func NewCartHandler(carts *service.CartManager, log *logrus.Logger) *CartHandler {
	if carts == nil || log == nil {
		panic("nil dependency passed to NewCartHandler")
	}
	return &CartHandler{Carts: carts, Log: log}
}

type reserveRequest struct {
	RaffleID  uint64   `json:"raffle_id" validate:"required"`
	TicketIDs []uint64 `json:"ticket_ids" validate:"required,min=1,max=500,dive,required"`
}

type releaseRequest struct {
	TicketIDs []uint64 `json:"ticket_ids" validate:"required,min=1,max=500,dive,required"`
}

type checkoutRequest struct {
	CustomerID    uint64 `json:"customer_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=CASH CARD TRANSFER"`
}

// Get handles GET /v1/cart.  It returns the caller's ACTIVE cart with its
// total and expiry time, or 404 when the caller has none.
func (h *CartHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	view, err := h.Carts.ActiveCart(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Reserve handles POST /v1/cart/tickets.  The tickets are added to the
// caller's ACTIVE cart, which is created on demand.  Either every ticket
// is reserved or none is; on conflict the response lists the tickets
// that were not available.
func (h *CartHandler) Reserve(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req reserveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.Log, err)
	}
	view, err := h.Carts.ReserveForUser(c.Request().Context(), userID, req.RaffleID, req.TicketIDs)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// Release handles DELETE /v1/cart/tickets.  Releasing the last ticket
// removes the cart and answers 204.
func (h *CartHandler) Release(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req releaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.Log, err)
	}
	view, err := h.Carts.ReleaseTickets(c.Request().Context(), userID, req.TicketIDs)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if view == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, view)
}

// Checkout handles POST /v1/carts/:id/checkout.  The cart must be the
// caller's and ACTIVE; its tickets are sold to customer_id and an order
// receipt is returned.
func (h *CartHandler) Checkout(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	cartID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid cart id"})
	}
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.Log, err)
	}
	promo, err := h.Carts.PromoteToOrder(c.Request().Context(), service.PromoteRequest{
		CartID:        cartID,
		UserID:        userID,
		CustomerID:    req.CustomerID,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, promo)
}
