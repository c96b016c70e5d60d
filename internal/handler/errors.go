package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

// respondError maps service and storage errors to JSON responses.
// Unexpected errors are logged and reported without detail.
func respondError(c echo.Context, log *logrus.Logger, err error) error {
	var (
		unavailable  *service.TicketUnavailableError
		notInCart    *service.TicketsNotInCartError
		insufficient *service.InsufficientInventoryError
		invalid      *validationError
	)
	switch {
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": invalid.Error()})
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "tickets unavailable", "unavailable": unavailable.TicketIDs})
	case errors.As(err, &notInCart):
		return c.JSON(http.StatusConflict, echo.Map{"error": "tickets not in cart", "ticket_ids": notInCart.TicketIDs})
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":     "insufficient inventory",
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, service.ErrNoTickets),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidPayment),
		errors.Is(err, service.ErrCustomerRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotCartOwner), errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrRaffleNotFound),
		errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": notFoundMessage(err)})
	case errors.Is(err, service.ErrRaffleNotOpen),
		errors.Is(err, service.ErrCartNotActive),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrRetryable), errors.Is(err, repository.ErrActiveCartExists):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "busy, please retry"})
	case errors.Is(err, service.ErrOrderFinalization):
		log.WithError(err).Error("order finalization failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "order could not be finalized"})
	}
	log.WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrRaffleNotFound):
		return "raffle not found"
	case errors.Is(err, service.ErrCartNotFound):
		return "cart not found"
	}
	return "not found"
}
