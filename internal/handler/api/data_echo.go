package api

import (
	"errors"
	"net/url"
	"time"

	models "MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/engine"
	xhttp "MarketPull/pkg/http"
	xlogger "MarketPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DataEchoHandler implements Echo-based HTTP handlers following Clean Architecture.
type DataEchoHandler struct {
	logger  *xlogger.Logger
	eng     *engine.Engine
	storage domrepo.Storage // nil when no query backend is configured
}

func NewDataEchoHandler(logger *xlogger.Logger, eng *engine.Engine, storage domrepo.Storage) *DataEchoHandler {
	return &DataEchoHandler{logger: logger, eng: eng, storage: storage}
}

func (h *DataEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/data/:category", h.Data)
	g.GET("/quotes/:symbol", h.QuoteHistory)
	g.GET("/providers/health", h.ProviderHealth)
	g.POST("/providers/reset", h.ProviderReset)
	g.POST("/cache/clear", h.CacheClear)
}

// Data fetches a category on demand through the acquisition engine. Query
// parameters other than the control keys are forwarded to the provider.
func (h *DataEchoHandler) Data(c echo.Context) error {
	req := &models.DataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	category := c.Param("category")

	params := url.Values{}
	for k, vs := range c.QueryParams() {
		switch k {
		case "endpoint", "refresh", "stale":
			continue
		}
		params[k] = vs
	}

	res, err := h.eng.FetchWithFallback(c.Request().Context(), category, req.Endpoint, params, engine.FetchOptions{
		SkipCache:  req.Refresh,
		AllowStale: req.Stale,
	})
	if err != nil {
		var exhausted *engine.ExhaustedError
		if errors.As(err, &exhausted) {
			h.logger.Warn("all providers exhausted",
				xlogger.String("category", category),
				xlogger.Error(err),
			)
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("providers_exhausted", "", err.Error(), 502))
		}
		h.logger.Error("data fetch error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// QuoteHistory reads stored quotes for a symbol from the storage backend.
func (h *DataEchoHandler) QuoteHistory(c echo.Context) error {
	if h.storage == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("no storage backend configured"))
	}
	req := &models.QuoteHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := c.Param("symbol")

	to := xhttp.ParseTimeDefault(req.To, time.Now())
	from := xhttp.ParseTimeDefault(req.From, to.Add(-24*time.Hour))

	rows, err := h.storage.Query(c.Request().Context(), symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("quote history error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// ProviderHealth reports circuit and success statistics, for one provider or all.
func (h *DataEchoHandler) ProviderHealth(c echo.Context) error {
	req := &models.ProviderNameRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	records := h.eng.Health(req.Name)
	if req.Name != "" && len(records) == 0 {
		return xhttp.NotFoundResponse(c, xhttp.NotFoundErrorf("unknown provider %q", req.Name))
	}
	return xhttp.SuccessResponse(c, records)
}

// ProviderReset closes the circuit and clears failure counters, for one
// provider or all.
func (h *DataEchoHandler) ProviderReset(c echo.Context) error {
	req := &models.ProviderNameRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.eng.ResetHealth(req.Name)
	h.logger.Info("provider health reset", xlogger.String("name", req.Name))
	return xhttp.NoContentResponse(c)
}

// CacheClear drops cached responses, optionally only those under a key prefix.
func (h *DataEchoHandler) CacheClear(c echo.Context) error {
	req := &models.CacheClearRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.eng.ClearCache(c.Request().Context(), req.Prefix)
	h.logger.Info("cache cleared", xlogger.String("prefix", req.Prefix))
	return xhttp.NoContentResponse(c)
}
