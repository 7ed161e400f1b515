// Appointment HTTP handlers.
//
//   - POST /appointments   (manual booking by an operator)
//   - GET  /appointments   (list, paginated, optional lead_id filter)
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/services"
)

// CreateAppointmentRequest is the JSON payload for a manual booking.
type CreateAppointmentRequest struct {
	LeadID      uint      `json:"lead_id"  binding:"required" example:"1"`
	Service     string    `json:"service"  binding:"required,max=255" example:"corte"`
	StartAt     time.Time `json:"start_at" binding:"required" example:"2025-06-06T15:00:00-03:00"`
	EndAt       time.Time `json:"end_at"   binding:"required" example:"2025-06-06T15:30:00-03:00"`
	Status      string    `json:"status,omitempty" example:"confirmed"`
	ExternalRef string    `json:"external_ref,omitempty" binding:"max=255"`
}

// ListAppointmentsResponse wraps a page of appointments.
type ListAppointmentsResponse struct {
	Appointments []domain.Appointment `json:"appointments"`
	Pagination   Pagination           `json:"pagination"`
}

// CreateAppointment godoc
// @ID          createAppointment
// @Summary     Book an appointment manually
// @Description Stores an appointment for an existing lead. The end must be after the start.
// @Tags        Appointments
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Client idempotency key"
// @Param       body             body    handlers.CreateAppointmentRequest  true  "Appointment"
//
// @Success     201  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid appointment"
// @Failure     404  {object}  handlers.ErrorResponse  "Lead not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/appointments [post]
func (h *Handlers) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lead_id, service, start_at and end_at are required")
		return
	}

	a, err := h.appts.Create(c.Request.Context(), services.AppointmentInput{
		LeadID:      req.LeadID,
		Service:     req.Service,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Status:      domain.AppointmentStatus(req.Status),
		ExternalRef: req.ExternalRef,
	})
	switch {
	case err == nil:
		ok(c, http.StatusCreated, a)
	case errors.Is(err, services.ErrInvalidAppointment):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAppointment, err.Error())
	case errors.Is(err, services.ErrLeadNotFound):
		fail(c, http.StatusNotFound, ErrCodeLeadNotFound, "lead not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
	}
}

// ListAppointments godoc
// @ID          listAppointments
// @Summary     List appointments (paginated)
// @Description Returns appointments ordered by start time, optionally for one lead.
// @Tags        Appointments
// @Produce     json
//
// @Param       lead_id    query  int  false  "Lead ID"
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListAppointmentsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/appointments [get]
func (h *Handlers) ListAppointments(c *gin.Context) {
	var leadID uint
	if raw := c.Query("lead_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "lead_id must be a positive integer")
			return
		}
		leadID = uint(n)
	}
	p := pageFromQuery(c)

	items, total, err := h.appts.ListPage(c.Request.Context(), leadID, p.Number, p.Size)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListAppointmentsResponse{
		Appointments: items,
		Pagination:   newPagination(p, total),
	})
}
