package scheduling

import (
	"errors"
	"net/http"
	"time"

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
	read.GET("/slots", h.ListSlots)
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)

	write := api.Group("", auth.RequireRole("admin", "vet", "receptionist"))
	write.POST("/appointments", h.Book)
	write.POST("/appointments/:id/confirm", h.Confirm)
	write.POST("/appointments/:id/cancel", h.Cancel)
	write.POST("/appointments/:id/no-show", h.MarkNoShow)

	clinical := api.Group("", auth.RequireRole("admin", "vet"))
	clinical.POST("/appointments/:id/start-consultation", h.StartConsultation)
	clinical.POST("/appointments/:id/end-consultation", h.EndConsultation)
}

// httpError maps service sentinels onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) ListSlots(c echo.Context) error {
	staffID, err := uuid.Parse(c.QueryParam("staff_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "staff_id query parameter is required")
	}
	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter must be YYYY-MM-DD")
	}

	slots, err := h.svc.AvailableSlots(c.Request().Context(), staffID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slots)
}

// bookRequest is the JSON body for POST /appointments.
type bookRequest struct {
	StaffID      uuid.UUID `json:"staff_id"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	PetID        uuid.UUID `json:"pet_id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	OwnerContact *string   `json:"owner_contact"`
	EntityID     string    `json:"entity_id"`
	VisitType    string    `json:"visit_type"`
	Reason       *string   `json:"reason"`
	Notes        *string   `json:"notes"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	startMinute, err := ClockToMinutes(req.Time)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EntityID == "" {
		req.EntityID = h.defaultEntityID
	}

	a, err := h.svc.Book(c.Request().Context(), BookRequest{
		StaffID:      req.StaffID,
		Date:         date,
		StartMinute:  startMinute,
		PetID:        req.PetID,
		OwnerID:      req.OwnerID,
		OwnerContact: req.OwnerContact,
		EntityID:     req.EntityID,
		VisitType:    req.VisitType,
		Reason:       req.Reason,
		Notes:        req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)

	f := ListFilter{EntityID: c.QueryParam("entity_id")}
	if f.EntityID == "" {
		f.EntityID = h.defaultEntityID
	}
	if v := c.QueryParam("staff_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid staff_id")
		}
		f.StaffID = &id
	}
	if v := c.QueryParam("pet_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid pet_id")
		}
		f.PetID = &id
	}
	if v := c.QueryParam("owner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid owner_id")
		}
		f.OwnerID = &id
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Date = &d
	}
	if v := c.QueryParam("status"); v != "" {
		f.Status = Status(v)
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.applyTransition(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Confirm(c.Request().Context(), id)
	})
}

// cancelRequest is the optional JSON body for POST /appointments/:id/cancel.
type cancelRequest struct {
	Reason *string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	var req cancelRequest
	// Body is optional; ignore bind errors from an empty body.
	_ = c.Bind(&req)
	return h.applyTransition(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Cancel(c.Request().Context(), id, req.Reason)
	})
}

func (h *Handler) StartConsultation(c echo.Context) error {
	return h.applyTransition(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.StartConsultation(c.Request().Context(), id)
	})
}

func (h *Handler) EndConsultation(c echo.Context) error {
	return h.applyTransition(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.EndConsultation(c.Request().Context(), id)
	})
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.applyTransition(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.MarkNoShow(c.Request().Context(), id)
	})
}

func (h *Handler) applyTransition(c echo.Context, fn func(uuid.UUID) (*Appointment, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := fn(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
