package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/utils"
)

// AppointmentInput is a manual booking made by an operator.
type AppointmentInput struct {
	LeadID      uint
	Service     string
	StartAt     time.Time
	EndAt       time.Time
	Status      domain.AppointmentStatus
	ExternalRef string
}

// AppointmentService books and lists appointments outside the pipeline.
type AppointmentService struct {
	DB *gorm.DB
}

// Create validates in and stores it. Status defaults to pending.
func (s *AppointmentService) Create(ctx context.Context, in AppointmentInput) (*domain.Appointment, error) {
	tr := otel.Tracer("services/AppointmentService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.Int64("lead.id", int64(in.LeadID))),
	)
	defer span.End()

	svc := strings.TrimSpace(in.Service)
	if svc == "" {
		return nil, fmt.Errorf("%w: service is required", ErrInvalidAppointment)
	}
	if _, err := repo.GetLead(ctx, s.DB, in.LeadID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}

	a := &domain.Appointment{
		LeadID:      in.LeadID,
		Service:     svc,
		StartAt:     in.StartAt.UTC(),
		EndAt:       in.EndAt.UTC(),
		Status:      in.Status,
		ExternalRef: strings.TrimSpace(in.ExternalRef),
	}
	if err := repo.CreateAppointment(ctx, s.DB, a); err != nil {
		if errors.Is(err, domain.ErrInvalidWindow) || errors.Is(err, domain.ErrInvalidStatus) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAppointment, err)
		}
		return nil, err
	}
	return a, nil
}

// ListPage returns a page of appointments, all leads when leadID is 0.
func (s *AppointmentService) ListPage(ctx context.Context, leadID uint, page, pageSize int) ([]domain.Appointment, int64, error) {
	tr := otel.Tracer("services/AppointmentService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int64("lead.id", int64(leadID)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	p := utils.NewPage(page, pageSize)
	total, err := repo.CountAppointments(ctx, s.DB, leadID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Appointment{}, 0, nil
	}
	items, err := repo.ListAppointmentsPage(ctx, s.DB, leadID, p.Offset(), p.Size)
	return items, total, err
}
