package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // http package defines standard HTTP status codes

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context

    "github.com/iliyamo/raffle-reservation/internal/model"
)

// RequireRole aborts with 403 unless the authenticated user's role ranks
// at least min (ADMIN > MEMBER > COLLABORATOR).  It must run after
// JWTAuth.
func RequireRole(min model.Role) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !RoleOf(c).Includes(min) {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
