package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinic/internal/platform/auth"
	"github.com/clinicops/clinic/pkg/pagination"
)

type Handler struct {
	slots       *SlotInventory
	appts       *AppointmentLifecycle
	coordinator *BookingCoordinator
	guard       *ConsistencyGuard
}

func NewHandler(slots *SlotInventory, appts *AppointmentLifecycle, coordinator *BookingCoordinator, guard *ConsistencyGuard) *Handler {
	return &Handler{slots: slots, appts: appts, coordinator: coordinator, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every signed-in role
	readGroup := api.Group("", auth.RequireRole(auth.RoleManager, auth.RoleStaff, auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/slots", h.ListSlots)
	readGroup.GET("/slots/:id", h.GetSlot)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Slot inventory – managers and doctors maintain availability
	slotGroup := api.Group("", auth.RequireRole(auth.RoleManager, auth.RoleDoctor))
	slotGroup.POST("/slots/generate", h.GenerateSlots)
	slotGroup.POST("/slots", h.CreateSlot)
	slotGroup.PUT("/slots/:id", h.UpdateSlot)
	slotGroup.DELETE("/slots/:id", h.DeleteSlot)

	// Booking – front desk, managers and patients
	bookGroup := api.Group("", auth.RequireRole(auth.RoleManager, auth.RoleStaff, auth.RolePatient))
	bookGroup.POST("/appointments", h.BookAppointment)
	bookGroup.PATCH("/slots/:id/book", h.BookSlot)
	bookGroup.POST("/appointments/:id/cancel", h.CancelAppointment)

	// Status changes – clinic staff
	staffGroup := api.Group("", auth.RequireRole(auth.RoleManager, auth.RoleStaff, auth.RoleDoctor))
	staffGroup.PATCH("/appointments/:id/status", h.UpdateStatus)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleManager))
	adminGroup.PATCH("/slots/:id/unbook", h.UnbookSlot)
	adminGroup.DELETE("/appointments/:id", h.DeleteAppointment)
}

// httpError maps scheduling errors onto HTTP status codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidRange):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateSlot), errors.Is(err, ErrConflict), errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotBooked), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Slot Handlers --

type generateSlotsRequest struct {
	DoctorID           uuid.UUID `json:"doctor_id"`
	Date               string    `json:"date"`
	StartTime          string    `json:"start_time"`
	EndTime            string    `json:"end_time"`
	GranularityMinutes int       `json:"granularity_minutes"`
}

type generateSlotsResponse struct {
	Created      []uuid.UUID   `json:"created"`
	CreatedCount int           `json:"created_count"`
	FailedCount  int           `json:"failed_count"`
	Failed       []SlotFailure `json:"failed"`
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	var req generateSlotsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.slots.GenerateAndCreate(c.Request().Context(), req.DoctorID, req.Date, req.StartTime, req.EndTime,
		time.Duration(req.GranularityMinutes)*time.Minute)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusCreated
	if len(res.Created) == 0 && len(res.Failed) > 0 {
		status = http.StatusConflict
	}
	return c.JSON(status, generateSlotsResponse{
		Created:      res.CreatedIDs(),
		CreatedCount: len(res.Created),
		FailedCount:  len(res.Failed),
		Failed:       res.Failed,
	})
}

func (h *Handler) CreateSlot(c echo.Context) error {
	var req SlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl, err := h.slots.CreateSlot(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sl, err := h.slots.GetSlot(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) ListSlots(c echo.Context) error {
	var f SlotFilter
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = id
	}
	f.Date = c.QueryParam("date")
	if v := c.QueryParam("available"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid available flag")
		}
		f.OnlyAvailable = only
	}

	seq, err := h.slots.ListSlots(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	items := []*Slot{}
	for sl, err := range seq {
		if err != nil {
			return httpError(err)
		}
		items = append(items, sl)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

type updateSlotRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl, err := h.slots.UpdateSlot(c.Request().Context(), id, req.Date, req.Time)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.slots.DeleteSlot(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BookSlot books the slot in the path for the appointment described in the body.
func (h *Handler) BookSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.SlotID = id
	appt, err := h.coordinator.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// UnbookSlot succeeds when the slot ends up free, including when it already
// was or no longer exists.
func (h *Handler) UnbookSlot(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.guard.ReleaseSlot(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointment Handlers --

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.coordinator.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	appt, err := h.appts.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Appointment
		total int
		err   error
	)
	switch {
	case c.QueryParam("doctor_id") != "":
		id, perr := uuid.Parse(c.QueryParam("doctor_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		items, total, err = h.appts.ListByDoctor(ctx, id, pg.Limit, pg.Offset)
	case c.QueryParam("patient_id") != "":
		id, perr := uuid.Parse(c.QueryParam("patient_id"))
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err = h.appts.ListByPatient(ctx, id, pg.Limit, pg.Offset)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id or patient_id is required")
	}
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	appt, err := h.coordinator.UpdateStatus(c.Request().Context(), id, st, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.coordinator.CancelAppointment(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.coordinator.DeleteAppointment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
