package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/internal/service/metrics"
	"FareCast/internal/service/ratelimit"
	"FareCast/internal/usecase"
	xhttp "FareCast/pkg/http"
	xlogger "FareCast/pkg/logger"
	"FareCast/pkg/queue"
	"FareCast/pkg/util"
)

// FaresDeps are the use cases behind the fare API.
type FaresDeps struct {
	Catalog      domrepo.RouteCatalog
	Registry     domrepo.ModelRegistry
	Ingester     usecase.BatchIngester
	Forecasts    *usecase.ForecastServer
	Retrainer    *usecase.Retrainer
	Observations *usecase.ObservationsUseCase
	Status       *usecase.RouteStatusUseCase
}

// FaresEchoHandler serves ingestion, forecasts and model administration.
type FaresEchoHandler struct {
	logger  *xlogger.Logger
	deps    FaresDeps
	queue   queue.QueueService
	limiter *ratelimit.Limiter
	rps     float64
}

type FaresOption func(*FaresEchoHandler)

// WithRetrainQueue sends async retrains through the job queue instead of a
// local goroutine.
func WithRetrainQueue(q queue.QueueService) FaresOption {
	return func(h *FaresEchoHandler) { h.queue = q }
}

// WithAdminRateLimit throttles admin calls per client IP.
func WithAdminRateLimit(l *ratelimit.Limiter, rps float64) FaresOption {
	return func(h *FaresEchoHandler) {
		h.limiter = l
		h.rps = rps
	}
}

func NewFaresEchoHandler(logger *xlogger.Logger, deps FaresDeps, opts ...FaresOption) *FaresEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	h := &FaresEchoHandler{logger: logger, deps: deps}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ xhttp.Handler = (*FaresEchoHandler)(nil)

func (h *FaresEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/ingest", h.Ingest)
	g.GET("/forecast", h.Forecast)
	g.GET("/forecast/monthly", h.Monthly)

	admin := g.Group("/admin", h.throttleAdmin)
	admin.POST("/retrain", h.Retrain)
	admin.POST("/rollback", h.Rollback)

	g.GET("/routes/:route_id/models", h.Models)
	g.GET("/routes/:route_id/observations", h.Observations)
	g.GET("/routes/:route_id/status", h.Status)
}

func (h *FaresEchoHandler) Ingest(c echo.Context) error {
	defer metrics.ObserveSince("ingest", time.Now())
	req := &models.IngestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rep, err := h.deps.Ingester.Ingest(c.Request().Context(), &models.IngestBatch{SourceID: req.SourceID, Records: req.Records})
	if err != nil {
		return h.fail(c, "ingest", err)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *FaresEchoHandler) Forecast(c echo.Context) error {
	defer metrics.ObserveSince("forecast", time.Now())
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	parts := strings.Split(req.Dates, ",")
	dates := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		d, err := util.ParseDate(strings.TrimSpace(p))
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("ERR_DATE", "invalid date %q, want YYYY-MM-DD", p).WithError(err))
		}
		dates = append(dates, d)
	}

	res, err := h.deps.Forecasts.Predict(c.Request().Context(), req.RouteID, dates)
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *FaresEchoHandler) Monthly(c echo.Context) error {
	defer metrics.ObserveSince("forecast_monthly", time.Now())
	req := &models.MonthlyRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.deps.Forecasts.MonthlyOutlook(c.Request().Context(), req.RouteID, req.Months)
	if err != nil {
		return h.fail(c, "forecast_monthly", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=300")
	return xhttp.SuccessResponse(c, res)
}

func (h *FaresEchoHandler) Retrain(c echo.Context) error {
	defer metrics.ObserveSince("admin_retrain", time.Now())
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	if _, ok := h.deps.Catalog.Route(req.RouteID); !ok {
		return h.fail(c, "admin_retrain", errs.New(errs.KindUnknownRoute, req.RouteID, "not in catalog"))
	}

	if req.Async {
		if err := h.enqueueRetrain(ctx, req.RouteID); err != nil {
			return h.fail(c, "admin_retrain", err)
		}
		return xhttp.AcceptedResponse(c, map[string]interface{}{"route_id": req.RouteID, "queued": true})
	}

	res, err := h.deps.Retrainer.Retrain(ctx, req.RouteID)
	if err != nil {
		return h.fail(c, "admin_retrain", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FaresEchoHandler) enqueueRetrain(ctx context.Context, routeID string) error {
	if h.queue != nil {
		return h.queue.PublishMessage(ctx, usecase.RetrainJobType, usecase.RetrainPayload{RouteID: routeID})
	}
	go func() {
		if _, err := h.deps.Retrainer.Retrain(context.WithoutCancel(ctx), routeID); err != nil {
			h.logger.Info("async retrain finished without activation", xlogger.Route(routeID), xlogger.Error(err))
		}
	}()
	return nil
}

func (h *FaresEchoHandler) Rollback(c echo.Context) error {
	defer metrics.ObserveSince("admin_rollback", time.Now())
	req := &models.RollbackRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	mv, err := h.deps.Retrainer.Rollback(c.Request().Context(), req.RouteID, req.VersionID)
	if err != nil {
		return h.fail(c, "admin_rollback", err)
	}
	h.logger.Info("model rolled back", xlogger.Route(req.RouteID), xlogger.Int64("version_id", mv.VersionID))
	return xhttp.SuccessResponse(c, mv)
}

func (h *FaresEchoHandler) Models(c echo.Context) error {
	defer metrics.ObserveSince("route_models", time.Now())
	req := &models.RouteRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if _, ok := h.deps.Catalog.Route(req.RouteID); !ok {
		return h.fail(c, "route_models", errs.New(errs.KindUnknownRoute, req.RouteID, "not in catalog"))
	}

	hist := h.deps.Registry.History(req.RouteID)
	if hist == nil {
		hist = []models.ModelVersion{}
	}
	return xhttp.ListResponse(c, hist, int64(len(hist)))
}

func (h *FaresEchoHandler) Observations(c echo.Context) error {
	defer metrics.ObserveSince("route_observations", time.Now())
	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	p := usecase.GetObservationsParams{RouteID: req.RouteID, Limit: req.Limit}
	for _, b := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{{"from", req.From, &p.From}, {"to", req.To, &p.To}} {
		if b.raw == "" {
			continue
		}
		t, ok := util.ParseTime(b.raw)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("ERR_TIME", "invalid %s %q", b.name, b.raw))
		}
		*b.dst = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("ERR_RANGE", "from must not be after to"))
	}

	res, err := h.deps.Observations.GetObservations(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "route_observations", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FaresEchoHandler) Status(c echo.Context) error {
	defer metrics.ObserveSince("route_status", time.Now())
	req := &models.RouteRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.deps.Status.GetStatus(c.Request().Context(), req.RouteID)
	if err != nil {
		return h.fail(c, "route_status", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FaresEchoHandler) throttleAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil || h.rps <= 0 {
			return next(c)
		}
		endpoint := strings.TrimPrefix(c.Path(), "/api/admin/")
		if !h.limiter.Allow("admin:"+c.RealIP(), h.rps, h.rps) {
			metrics.RateLimited.WithLabelValues(endpoint).Inc()
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many admin requests", http.StatusTooManyRequests))
		}
		return next(c)
	}
}

// fail maps a use case error to its HTTP status and records it.
func (h *FaresEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	appErr := toAppError(err)
	metrics.EndpointErrors.WithLabelValues(endpoint, appErr.Code).Inc()
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", xlogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" rejected", xlogger.String("code", appErr.Code), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	if kind, ok := errs.KindOf(err); ok {
		code := "ERR_" + strings.ToUpper(string(kind))
		msg := errs.ReasonOf(err)
		if msg == "" {
			msg = string(kind)
		}
		switch kind {
		case errs.KindInvalidObservation:
			return xhttp.BadRequestError(code, msg).WithError(err)
		case errs.KindUnknownRoute, errs.KindVersionNotFound:
			return xhttp.NotFoundError(code, msg).WithError(err)
		case errs.KindInsufficientData, errs.KindTrainingFailed:
			return xhttp.UnprocessableError(code, msg).WithError(err)
		}
	}
	switch {
	case errors.Is(err, usecase.ErrInvalidHorizon):
		return xhttp.BadRequestError("ERR_HORIZON", err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrRetrainInProgress):
		return xhttp.ConflictError("ERR_RETRAIN_IN_PROGRESS", "a retrain for this route is already running").WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
