package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-reservation/internal/middleware"
)

var errNoUser = errors.New("no authenticated user")

// getUserID returns the user set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, errNoUser
	}
	return id, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryUint parses an optional unsigned query parameter; absent means 0.
func queryUint(c echo.Context, name string, bits int) (uint64, bool) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(s, 10, bits)
	return n, err == nil
}
