package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/repository"
	"github.com/iliyamo/raffle-reservation/internal/service"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&service.TicketUnavailableError{TicketIDs: []uint64{4}}, http.StatusConflict},
		{fmt.Errorf("reserve: %w", &service.TicketsNotInCartError{TicketIDs: []uint64{2}}), http.StatusConflict},
		{&service.InsufficientInventoryError{Requested: 5, Available: 1}, http.StatusUnprocessableEntity},
		{service.ErrNoTickets, http.StatusBadRequest},
		{service.ErrInvalidPayment, http.StatusBadRequest},
		{service.ErrNotCartOwner, http.StatusForbidden},
		{service.ErrRaffleNotFound, http.StatusNotFound},
		{service.ErrCartNotFound, http.StatusNotFound},
		{repository.ErrNotFound, http.StatusNotFound},
		{service.ErrRaffleNotOpen, http.StatusConflict},
		{service.ErrCartNotActive, http.StatusConflict},
		{fmt.Errorf("%w: deadlock", repository.ErrRetryable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: gateway down", service.ErrOrderFinalization), http.StatusBadGateway},
		{&service.InvalidTicketStateError{TicketIDs: []uint64{1}}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		log, _ := test.NewNullLogger()
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		require.NoError(t, respondError(c, log, tc.err))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/carts/1/checkout", nil), rec)

	require.NoError(t, respondError(c, log, &service.InvalidTicketStateError{TicketIDs: []uint64{9}}))

	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRespondErrorListsUnavailableTickets(t *testing.T) {
	log, _ := test.NewNullLogger()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, respondError(c, log, &service.TicketUnavailableError{TicketIDs: []uint64{3, 7}}))
	assert.JSONEq(t, `{"error":"tickets unavailable","unavailable":[3,7]}`, rec.Body.String())
}

func TestRequestValidator(t *testing.T) {
	v := NewRequestValidator()

	assert.NoError(t, v.Validate(&reserveRequest{RaffleID: 1, TicketIDs: []uint64{1, 2}}))

	err := v.Validate(&reserveRequest{RaffleID: 1, TicketIDs: []uint64{1, 0}})
	var verr *validationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "TicketIDs[1]")

	assert.Error(t, v.Validate(&checkoutRequest{CustomerID: 1, PaymentMethod: "IOU"}))
	assert.NoError(t, v.Validate(&checkoutRequest{CustomerID: 1}))
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	e := echo.New()
	for _, tc := range []struct {
		db     Pinger
		status int
	}{
		{nil, http.StatusOK},
		{pinger{}, http.StatusOK},
		{pinger{err: errors.New("down")}, http.StatusServiceUnavailable},
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)
		h := &HealthHandler{DB: tc.db}
		require.NoError(t, h.Health(c))
		assert.Equal(t, tc.status, rec.Code)
	}
}
