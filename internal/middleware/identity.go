package middleware

// identity.go holds the context keys written by JWTAuth and the accessors
// handlers and other middleware use to read them back.

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/raffle-reservation/internal/model"
)

const (
    ctxUserID = "user_id" // uint64 taken from the "sub" claim
    ctxRole   = "role"    // model.Role taken from the "role" claim
)

// UserID returns the authenticated user's ID.  ok is false on routes that
// are not behind JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id != 0
}

// RoleOf returns the authenticated user's role, or "" when unauthenticated.
func RoleOf(c echo.Context) model.Role {
    r, _ := c.Get(ctxRole).(model.Role)
    return r
}

// currentUserID renders the user ID for cache and rate limit keys.
func currentUserID(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
