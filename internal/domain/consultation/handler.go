package consultation

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/auth"
	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the consultation routes on api. Creation is exempted
// from the request transaction.
func (h *Handler) RegisterRoutes(api *echo.Group, atomic *db.AtomicRequests) {
	g := api.Group("/consultation", user.Require(), auth.SafeMethodsForAssets())

	g.GET("/", h.List)
	create := g.POST("/", h.Create)
	if atomic != nil {
		atomic.Exempt(create.Method, create.Path)
	}
	g.GET("/export/", h.Export)
	g.GET("/patient_from_asset/", h.PatientFromAsset, auth.RequireAsset())

	g.GET("/:external_id/", h.Get)
	g.PUT("/:external_id/", h.Update)
	g.PATCH("/:external_id/", h.Update)
	g.POST("/:external_id/discharge_patient/", h.Discharge)
	g.POST("/:external_id/email_discharge_summary/", h.EmailDischargeSummary)
}

func (h *Handler) List(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	u := user.FromContext(c.Request().Context())

	cs, total, err := h.svc.List(c.Request().Context(), u, f, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if cs == nil {
		cs = []*Consultation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c.Request().URL, pg, total, cs))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := externalID(c)
	if err != nil {
		return err
	}
	cons, err := h.svc.Get(c.Request().Context(), user.FromContext(c.Request().Context()), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cons, err := h.svc.Create(c.Request().Context(), user.FromContext(c.Request().Context()), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := externalID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cons, err := h.svc.Update(c.Request().Context(), user.FromContext(c.Request().Context()), id, &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := externalID(c)
	if err != nil {
		return err
	}
	var req DischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Discharge(c.Request().Context(), user.FromContext(c.Request().Context()), id, &req); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) EmailDischargeSummary(c echo.Context) error {
	id, err := externalID(c)
	if err != nil {
		return err
	}
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	requestID, _ := c.Get("request_id").(string)
	err = h.svc.EmailDischargeSummary(c.Request().Context(), user.FromContext(c.Request().Context()), id, &req, requestID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"detail": "discharge summary will be emailed shortly"})
}

func (h *Handler) PatientFromAsset(c echo.Context) error {
	result, err := h.svc.PatientFromAsset(c.Request().Context(), user.FromContext(c.Request().Context()),
		c.QueryParam("preset_name"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Export(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), user.FromContext(c.Request().Context()), f, &buf); err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="consultations.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}

// filter reads the patient and facility query filters.
func (h *Handler) filter(c echo.Context) (Filter, error) {
	var f Filter
	if v := c.QueryParam("patient"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient")
		}
		f.PatientExternalID = &id
	}
	if v := c.QueryParam("facility"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid facility")
		}
		fac, err := h.svc.facilities.GetByExternalID(c.Request().Context(), id)
		if errors.Is(err, facility.ErrNotFound) {
			// An unknown facility filters everything out.
			none := int64(-1)
			f.FacilityID = &none
			return f, nil
		}
		if err != nil {
			return f, h.fail(c, err)
		}
		f.FacilityID = &fac.ID
	}
	return f, nil
}

func externalID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("external_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return id, nil
}

// fail maps service errors onto responses. Records outside the caller's scope
// come back as ErrNotFound and are indistinguishable from missing ones.
func (h *Handler) fail(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": verr.Fields})
	case errors.Is(err, ErrAlreadyDischarged):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"errors": map[string]string{"non_field_errors": err.Error()},
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrAssetOnly):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("consultation request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
