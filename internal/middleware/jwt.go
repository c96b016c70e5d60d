package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"
    "net/http" // HTTP status codes for responses
    "strconv"
    "strings" // string utilities for prefix checking and trimming

    "github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
    "github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/raffle-reservation/internal/model"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// signed with HS256 and the shared secret.  Tokens are issued by the
// association's identity service; this process only verifies them.  The
// "sub" claim must hold a positive numeric user ID and "role" one of the
// known roles.  On success the values are available through UserID and
// RoleOf.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            // Reject anything that is not HMAC so a token cannot pick its
            // own verification algorithm.
            tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
                if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
                    return nil, echo.ErrUnauthorized
                }
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            claims, ok := tok.Claims.(jwt.MapClaims)
            if !ok {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
            }
            uid, err := subject(claims)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
            }
            roleClaim, _ := claims["role"].(string)
            role, ok := model.ParseRole(roleClaim)
            if !ok {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "unknown role"})
            }

            c.Set(ctxUserID, uid)
            c.Set(ctxRole, role)
            return next(c)
        }
    }
}

var errBadSubject = errors.New("bad subject")

// subject reads "sub" as a positive integer.  JSON numbers decode as
// float64; string subjects are accepted too.
func subject(claims jwt.MapClaims) (uint64, error) {
    switch v := claims["sub"].(type) {
    case float64:
        if v < 1 || v != float64(uint64(v)) {
            return 0, errBadSubject
        }
        return uint64(v), nil
    case string:
        n, err := strconv.ParseUint(v, 10, 64)
        if err != nil || n == 0 {
            return 0, errBadSubject
        }
        return n, nil
    }
    return 0, errBadSubject
}
