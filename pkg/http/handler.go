package http

import "github.com/labstack/echo/v4"

// Handler registers a related group of routes on the Echo instance. The
// server accepts any implementation, so route handlers stay decoupled from
// server lifecycle and middleware setup.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
