package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

// OrderReader loads finalized orders.
type OrderReader interface {
	GetOrder(ctx context.Context, id uint64) (model.Order, error)
}

// AdminHandler serves cart and order inspection and maintenance for ADMIN
// users.
type AdminHandler struct {
	Carts   *service.CartManager
	Sweeper *service.Sweeper
	Orders  OrderReader
	Log     *logrus.Logger
}

func NewAdminHandler(carts *service.CartManager, sweeper *service.Sweeper, orders OrderReader, log *logrus.Logger) *AdminHandler {
	if carts == nil || sweeper == nil || orders == nil || log == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Carts: carts, Sweeper: sweeper, Orders: orders, Log: log}
}

// ListCarts handles GET /v1/carts?status=&user_id=&limit=&offset=.
func (h *AdminHandler) ListCarts(c echo.Context) error {
	var f repository.CartFilter
	switch s := model.CartStatus(strings.ToUpper(c.QueryParam("status"))); s {
	case "", model.CartActive, model.CartCompleted, model.CartExpired:
		f.Status = s
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	userID, ok1 := queryUint(c, "user_id", 64)
	limit, ok2 := queryUint(c, "limit", 16)
	offset, ok3 := queryUint(c, "offset", 31)
	if !ok1 || !ok2 || !ok3 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameter"})
	}
	f.UserID, f.Limit, f.Offset = userID, int(limit), int(offset)

	carts, err := h.Carts.SearchCarts(c.Request().Context(), f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"carts": carts})
}

// GetCart handles GET /v1/carts/:id.
func (h *AdminHandler) GetCart(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid cart id"})
	}
	view, err := h.Carts.GetCart(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Sweep handles POST /v1/admin/sweep.  It runs one expiry sweep now and
// returns its summary; 409 means another instance is sweeping.
func (h *AdminHandler) Sweep(c echo.Context) error {
	sum, ran, err := h.Sweeper.SweepOnce(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if !ran {
		return c.JSON(http.StatusConflict, echo.Map{"error": "sweep already in progress"})
	}
	return c.JSON(http.StatusOK, sum)
}

// GetOrder handles GET /v1/orders/:id.
func (h *AdminHandler) GetOrder(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
	}
	order, err := h.Orders.GetOrder(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, order)
}
