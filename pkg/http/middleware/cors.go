package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds the allowlist for cross-origin requests.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// CORS answers preflights and stamps CORS headers for allowed origins.
// Dashboards are the primary consumer of this API, so "*" is a reasonable
// default for read-only deployments.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	wildcard := false
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			allowed := wildcard
			if !allowed {
				for _, o := range cfg.AllowOrigins {
					if o == origin {
						allowed = true
						break
					}
				}
			}
			if !allowed {
				return next(c)
			}

			h := c.Response().Header()
			h.Add("Vary", "Origin")
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if c.Request().Method == http.MethodOptions {
				if len(cfg.AllowMethods) > 0 {
					h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
				}
				if len(cfg.AllowHeaders) > 0 {
					h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
				}
				h.Set("Access-Control-Max-Age", "600")
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
