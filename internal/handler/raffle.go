package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/model"
	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

// maxRandomPick bounds the quantity of a random pick request.
const maxRandomPick = 500

// RaffleHandler serves raffle reads, ticket inventory queries and raffle
// creation.
type RaffleHandler struct {
	Raffles repository.RaffleStore
	Store   repository.Store
	Pool    *service.TicketPool
	Log     *logrus.Logger
}

func NewRaffleHandler(raffles repository.RaffleStore, store repository.Store, pool *service.TicketPool, log *logrus.Logger) *RaffleHandler {
	if raffles == nil || store == nil || pool == nil || log == nil {
		panic("nil dependency passed to NewRaffleHandler")
	}
	return &RaffleHandler{Raffles: raffles, Store: store, Pool: pool, Log: log}
}

type createRaffleRequest struct {
	AssociationID    uint64    `json:"association_id" validate:"required"`
	Name             string    `json:"name" validate:"required,max=120"`
	TicketPriceCents uint32    `json:"ticket_price_cents" validate:"required"`
	TotalTickets     uint32    `json:"total_tickets" validate:"required,max=100000"`
	Status           string    `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE CLOSED"`
	StartsAt         time.Time `json:"starts_at" validate:"required"`
	EndsAt           time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

// List handles GET /v1/raffles with an optional ?status= filter.
func (h *RaffleHandler) List(c echo.Context) error {
	status := model.RaffleStatus(strings.ToUpper(c.QueryParam("status")))
	switch status {
	case "", model.RaffleDraft, model.RaffleActive, model.RaffleClosed:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	raffles, err := h.Raffles.ListRaffles(c.Request().Context(), status)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"raffles": raffles})
}

// Get handles GET /v1/raffles/:id.
func (h *RaffleHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	r, err := h.Store.GetRaffle(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Create handles POST /v1/raffles.  The raffle and its tickets numbered
// 1..total_tickets are written together.
func (h *RaffleHandler) Create(c echo.Context) error {
	var req createRaffleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, h.Log, err)
	}
	status := model.RaffleStatus(req.Status)
	if status == "" {
		status = model.RaffleDraft
	}
	r, err := h.Raffles.CreateRaffle(c.Request().Context(), model.Raffle{
		AssociationID:    req.AssociationID,
		Name:             strings.TrimSpace(req.Name),
		TicketPriceCents: req.TicketPriceCents,
		TotalTickets:     req.TotalTickets,
		Status:           status,
		StartsAt:         req.StartsAt.UTC(),
		EndsAt:           req.EndsAt.UTC(),
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.WithFields(logrus.Fields{"raffle_id": r.ID, "tickets": r.TotalTickets}).Info("raffle created")
	return c.JSON(http.StatusCreated, r)
}

// Tickets handles GET /v1/raffles/:id/tickets.  Query parameters: status,
// from and to (ticket number range, inclusive), limit and offset.
func (h *RaffleHandler) Tickets(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	f := repository.TicketFilter{RaffleID: id}
	switch s := model.TicketStatus(strings.ToUpper(c.QueryParam("status"))); s {
	case "", model.TicketAvailable, model.TicketReserved, model.TicketSold:
		f.Status = s
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	from, ok1 := queryUint(c, "from", 32)
	to, ok2 := queryUint(c, "to", 32)
	limit, ok3 := queryUint(c, "limit", 16)
	offset, ok4 := queryUint(c, "offset", 31)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameter"})
	}
	if to > 0 && from > to {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from must not exceed to"})
	}
	f.NumberFrom, f.NumberTo = uint32(from), uint32(to)
	f.Limit, f.Offset = int(limit), int(offset)

	tickets, err := h.Pool.SearchTickets(c.Request().Context(), f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

// Random handles GET /v1/raffles/:id/tickets/random?quantity=N.  It
// suggests N distinct AVAILABLE tickets without reserving them.
func (h *RaffleHandler) Random(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	q, ok := queryUint(c, "quantity", 16)
	if !ok || q == 0 || q > maxRandomPick {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must be between 1 and 500"})
	}
	tickets, err := h.Pool.PickRandomAvailable(c.Request().Context(), id, int(q))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}
