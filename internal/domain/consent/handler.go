package consent

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/domain/consultation"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/auth"
	"github.com/JavidSumra/care-be/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts consents under their consultation.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/consultation/:external_id/consents", user.Require(), auth.SafeMethodsForAssets())
	g.GET("/", h.List)
	g.POST("/", h.Create)
	g.GET("/:consent_id/", h.Get)
	g.PUT("/:consent_id/", h.Update)
	g.PATCH("/:consent_id/", h.Update)
}

func (h *Handler) List(c echo.Context) error {
	consultationID, err := pathID(c, "external_id")
	if err != nil {
		return err
	}
	var archived *bool
	if v := c.QueryParam("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid archived filter")
		}
		archived = &b
	}
	pg := pagination.FromContext(c)

	consents, total, err := h.svc.List(c.Request().Context(), user.FromContext(c.Request().Context()),
		consultationID, archived, pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if consents == nil {
		consents = []*Consent{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c.Request().URL, pg, total, consents))
}

func (h *Handler) Get(c echo.Context) error {
	consultationID, err := pathID(c, "external_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "consent_id")
	if err != nil {
		return err
	}
	consent, err := h.svc.Get(c.Request().Context(), user.FromContext(c.Request().Context()), consultationID, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, consent)
}

func (h *Handler) Create(c echo.Context) error {
	consultationID, err := pathID(c, "external_id")
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	consent, err := h.svc.Create(c.Request().Context(), user.FromContext(c.Request().Context()), consultationID, &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, consent)
}

func (h *Handler) Update(c echo.Context) error {
	consultationID, err := pathID(c, "external_id")
	if err != nil {
		return err
	}
	id, err := pathID(c, "consent_id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	consent, err := h.svc.Update(c.Request().Context(), user.FromContext(c.Request().Context()), consultationID, id, &req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, consent)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return id, nil
}

func (h *Handler) fail(c echo.Context, err error) error {
	var verr *consultation.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": verr.Fields})
	case errors.Is(err, ErrArchived):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"errors": map[string]string{"non_field_errors": err.Error()},
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, consultation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("consent request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
