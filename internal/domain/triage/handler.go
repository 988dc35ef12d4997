package triage

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/triage/triage/internal/platform/auth"
	"github.com/triage/triage/internal/platform/ml"
	"github.com/triage/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/triage", auth.RequireRole("admin", "clinician", "patient"))
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions/:id", h.GetSession)
	g.POST("/sessions/:id/answers", h.SubmitAnswer)
	g.POST("/sessions/:id/abandon", h.AbandonSession)
	g.GET("/history", h.History)
}

// httpStatus maps domain errors onto status codes; the service's error
// taxonomy is the contract here.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionState), errors.Is(err, ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, ml.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// callerScope resolves the authenticated caller. Admins and clinicians act
// on any patient's sessions; everyone else only on their own, so their
// subject must be a patient id.
func callerScope(c echo.Context) (uuid.UUID, bool, error) {
	ctx := c.Request().Context()
	for _, role := range auth.RolesFromContext(ctx) {
		if role == "admin" || role == "clinician" {
			return uuid.Nil, true, nil
		}
	}
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, false, echo.NewHTTPError(http.StatusForbidden,
			"caller identity does not resolve to a patient")
	}
	return id, false, nil
}

// authorizeSession loads the session and rejects callers that do not own it.
func (h *Handler) authorizeSession(c echo.Context, id uuid.UUID) (*Session, error) {
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, echo.NewHTTPError(httpStatus(err), err.Error())
	}
	caller, privileged, err := callerScope(c)
	if err != nil {
		return nil, err
	}
	if !privileged && sess.PatientID != caller {
		return nil, echo.NewHTTPError(http.StatusForbidden, "session belongs to another patient")
	}
	return sess, nil
}

func (h *Handler) StartSession(c echo.Context) error {
	var in StartInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller, privileged, err := callerScope(c)
	if err != nil {
		return err
	}
	// Patients always open sessions as themselves; only clinicians and
	// admins may start one on another patient's behalf.
	if !privileged {
		in.PatientID = caller
	}
	sess, err := h.svc.Start(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.authorizeSession(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SubmitAnswer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, err := h.authorizeSession(c, id); err != nil {
		return err
	}
	var in AnswerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.SubmitAnswer(c.Request().Context(), id, in)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) AbandonSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, err := h.authorizeSession(c, id); err != nil {
		return err
	}
	sess, err := h.svc.Abandon(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

// History lists the caller's past sessions. Clinicians and admins pass
// patient_id explicitly; for patients the parameter is ignored.
func (h *Handler) History(c echo.Context) error {
	caller, privileged, err := callerScope(c)
	if err != nil {
		return err
	}
	patientID := caller
	if privileged {
		patientID, err = uuid.Parse(c.QueryParam("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
