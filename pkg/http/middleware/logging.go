package middleware

import (
	"log"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one line per request. Prometheus scrapes of /metrics
// are skipped to keep the log readable.
func RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.URL.Path == "/metrics" {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			res := c.Response()
			log.Printf("%s %s %d %dB %s %s",
				req.Method,
				req.URL.Path,
				res.Status,
				res.Size,
				time.Since(start).Round(time.Microsecond),
				req.RemoteAddr,
			)

			return err
		}
	}
}
