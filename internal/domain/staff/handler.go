package staff

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetdesk/opd/internal/platform/auth"
	"github.com/vetdesk/opd/pkg/pagination"
)

type Handler struct {
	svc             *Service
	defaultEntityID string
}

func NewHandler(svc *Service, defaultEntityID string) *Handler {
	return &Handler{svc: svc, defaultEntityID: defaultEntityID}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "vet", "receptionist"))
	read.GET("/staff", h.ListAssignments)
	read.GET("/staff/:id", h.GetAssignment)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/staff", h.CreateAssignment)
	write.PUT("/staff/:id", h.UpdateAssignment)
	write.DELETE("/staff/:id", h.DeleteAssignment)
}

// createRequest distinguishes an omitted active flag from an explicit false,
// so an assignment can be created inactive.
type createRequest struct {
	EntityID            string `json:"entity_id"`
	FullName            string `json:"full_name"`
	JobTitle            string `json:"job_title"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Active              *bool  `json:"active"`
}

func (h *Handler) CreateAssignment(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := Assignment{
		EntityID:            req.EntityID,
		FullName:            req.FullName,
		JobTitle:            req.JobTitle,
		SlotDurationMinutes: req.SlotDurationMinutes,
		Active:              true,
	}
	if req.Active != nil {
		a.Active = *req.Active
	}
	if a.EntityID == "" {
		a.EntityID = h.defaultEntityID
	}
	if err := h.svc.CreateAssignment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		entityID = h.defaultEntityID
	}
	activeOnly := c.QueryParam("active") == "true"

	items, total, err := h.svc.ListAssignments(c.Request().Context(), entityID, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAssignment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Assignment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.UpdateAssignment(c.Request().Context(), &a); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAssignment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAssignment(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
