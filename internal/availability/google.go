package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/tbourn/go-atendente/internal/domain"
)

// GoogleCalendar books against a Google Calendar.
type GoogleCalendar struct {
	svc        *calendar.Service
	calendarID string
	Hours      Hours
	Now        func() time.Time
}

// NewGoogleCalendar authenticates with credentials, which is either the
// service-account JSON itself or a path to it.
func NewGoogleCalendar(ctx context.Context, credentials, calendarID string, hours Hours, opts ...option.ClientOption) (*GoogleCalendar, error) {
	creds := strings.TrimSpace(credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	opts = append(opts, option.WithScopes(calendar.CalendarScope))
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return NewGoogleCalendarWithService(svc, calendarID, hours), nil
}

// NewGoogleCalendarWithService wraps an existing client.
func NewGoogleCalendarWithService(svc *calendar.Service, calendarID string, hours Hours) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, Hours: hours, Now: time.Now}
}

func (g *GoogleCalendar) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *GoogleCalendar) busy(ctx context.Context, from, to time.Time) ([]domain.Slot, error) {
	resp, err := g.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: g.Hours.loc().String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy: %w", err)
	}
	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, fmt.Errorf("freebusy: calendar %q missing from response", g.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy: %s", cal.Errors[0].Reason)
	}
	out := make([]domain.Slot, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err1 := time.Parse(time.RFC3339, p.Start)
		e, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("freebusy: bad period %q..%q", p.Start, p.End)
		}
		out = append(out, domain.Slot{Start: s, End: e})
	}
	return out, nil
}

// ListSlots implements Calendar.
func (g *GoogleCalendar) ListSlots(ctx context.Context, c domain.Criteria) ([]domain.Slot, error) {
	ctx, span := otel.Tracer("availability/GoogleCalendar").Start(ctx, "ListSlots",
		trace.WithAttributes(attribute.String("date", c.Date), attribute.String("service", c.Service)))
	defer span.End()

	open, closeAt, err := g.Hours.Day(c.Date)
	if err != nil {
		return nil, err
	}
	busy, err := g.busy(ctx, open, closeAt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return g.Hours.Candidates(c, busy, g.now())
}

// Reserve implements Calendar.
func (g *GoogleCalendar) Reserve(ctx context.Context, slot domain.Slot, lead domain.Lead, c domain.Criteria) (Confirmation, error) {
	ctx, span := otel.Tracer("availability/GoogleCalendar").Start(ctx, "Reserve",
		trace.WithAttributes(attribute.String("slot", slot.String())))
	defer span.End()

	busy, err := g.busy(ctx, slot.Start, slot.End)
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
	if overlapsAny(slot, busy) {
		return Confirmation{}, fmt.Errorf("%w: %s already taken", ErrReservationFailed, slot)
	}

	who := lead.Phone
	if lead.Name != nil && *lead.Name != "" {
		who = *lead.Name
	}
	tz := g.Hours.loc().String()
	ev, err := g.svc.Events.Insert(g.calendarID, &calendar.Event{
		Summary:     fmt.Sprintf("%s - %s", c.Service, who),
		Description: fmt.Sprintf("Agendado via WhatsApp (%s)", lead.Phone),
		Start:       &calendar.EventDateTime{DateTime: slot.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: slot.End.Format(time.RFC3339), TimeZone: tz},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
	return Confirmation{ExternalRef: ev.Id, Slot: slot}, nil
}
