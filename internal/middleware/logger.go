package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request.  It must be registered after
// echo's RequestID middleware for the request_id field to be filled; the
// user_id field is only known for routes behind JWTAuth, whose values are
// read after the handler chain returns.
func RequestLogger(log *logrus.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                // let echo's error handler write the response so the
                // logged status matches what the client saw
                c.Error(err)
            }

            res := c.Response()
            fields := logrus.Fields{
                "method":     c.Request().Method,
                "path":       c.Path(),
                "uri":        c.Request().RequestURI,
                "status":     res.Status,
                "latency_ms": time.Since(start).Milliseconds(),
                "request_id": res.Header().Get(echo.HeaderXRequestID),
                "remote_ip":  c.RealIP(),
            }
            if uid, ok := UserID(c); ok {
                fields["user_id"] = uid
            }
            entry := log.WithFields(fields)
            switch {
            case res.Status >= 500:
                entry.WithError(err).Error("request failed")
            case res.Status >= 400:
                entry.Info("request rejected")
            default:
                entry.Info("request handled")
            }
            return nil
        }
    }
}
