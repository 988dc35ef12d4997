package feedback

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/triage/triage/internal/domain/triage"
	"github.com/triage/triage/internal/platform/auth"
	"github.com/triage/triage/internal/platform/ml"
	"github.com/triage/triage/pkg/pagination"
)

type Handler struct {
	svc       *Service
	scheduler *Scheduler
	registry  *ml.Registry
}

func NewHandler(svc *Service, scheduler *Scheduler, registry *ml.Registry) *Handler {
	return &Handler{svc: svc, scheduler: scheduler, registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	fb := api.Group("/feedback", auth.RequireRole("admin", "clinician", "patient"))
	fb.POST("", h.SubmitFeedback)
	fb.GET("/:id", h.GetFeedback)

	// Session-scoped alias, same handler with the id taken from the path.
	api.POST("/triage/sessions/:id/feedback",
		h.SubmitSessionFeedback, auth.RequireRole("admin", "clinician", "patient"))

	// Model management is operator-only.
	mlGroup := api.Group("/ml", auth.RequireRole("admin"))
	mlGroup.GET("/models", h.ListModels)
	mlGroup.POST("/retrain", h.Retrain)
	mlGroup.GET("/runs", h.ListTrainingRuns)
	mlGroup.GET("/feedback", h.ListFeedback)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) SubmitFeedback(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	f, err := h.svc.Submit(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

// SubmitSessionFeedback accepts feedback posted against a session path; the
// path segment wins over any session_id in the body.
func (h *Handler) SubmitSessionFeedback(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.SessionID = id
	f, err := h.svc.Submit(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) GetFeedback(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	f, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "feedback not found")
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ListFeedback(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListModels(c echo.Context) error {
	artifacts, err := h.registry.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"active_version": h.registry.ActiveVersion(),
		"artifacts":      artifacts,
	})
}

// Retrain triggers one cycle synchronously and returns its run record. A
// rejected promotion is still a 200; the outcome field carries the verdict.
func (h *Handler) Retrain(c echo.Context) error {
	run, err := h.scheduler.RunCycle(c.Request().Context())
	if err != nil {
		if run != nil {
			return c.JSON(http.StatusUnprocessableEntity, run)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListTrainingRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.scheduler.runs.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
