package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/availability"
	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/extraction"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/reply"
	"github.com/tbourn/go-atendente/internal/repo"
)

const (
	decisionAsk            = "ask"
	decisionLowConfidence  = "low_confidence"
	decisionBook           = "book"
	decisionAlreadyBooked  = "already_booked"
	decisionNoAvailability = "no_availability"
	decisionDegraded       = "degraded"
)

func (p *Pipeline) load(ctx context.Context, db *gorm.DB, job queue.Job) (msg *domain.Message, conv *domain.Conversation, lead *domain.Lead, err error) {
	ctx, end := stage(ctx, "load")
	defer func() { end(err) }()

	if msg, err = repo.GetMessage(ctx, db, job.MessageID); err != nil {
		return nil, nil, nil, lookupErr("message", job.MessageID, err)
	}
	if msg.ConversationID != job.ConversationID {
		return nil, nil, nil, fmt.Errorf("%w: message %d belongs to conversation %d, not %d",
			ErrNotFound, msg.ID, msg.ConversationID, job.ConversationID)
	}
	if msg.Sender != domain.SenderLead {
		return nil, nil, nil, fmt.Errorf("%w: message %d was sent by %s", ErrInvalidJob, msg.ID, msg.Sender)
	}
	if conv, err = repo.GetConversation(ctx, db, job.ConversationID); err != nil {
		return nil, nil, nil, lookupErr("conversation", job.ConversationID, err)
	}
	if lead, err = repo.GetLead(ctx, db, conv.LeadID); err != nil {
		return nil, nil, nil, lookupErr("lead", conv.LeadID, err)
	}
	return msg, conv, lead, nil
}

func lookupErr(what string, id uint, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}

// respond chooses the reply. Adapter failures become a degraded turn; only
// store errors are returned.
func (p *Pipeline) respond(ctx context.Context, db *gorm.DB, msg *domain.Message, lead *domain.Lead, history []domain.Message) (turn, error) {
	logger := log.Ctx(ctx)

	res, err := p.extract(ctx, msg, history)
	if err != nil {
		logger.Warn().Err(err).
			Bool("unavailable", extraction.IsUnavailable(err)).
			Msg("extraction failed, replying with apology")
		return degraded(), nil
	}

	if res.Name != nil && domain.Str(lead.Name) == "" {
		if err := repo.SetLeadName(ctx, db, lead.ID, *res.Name); err != nil {
			logger.Warn().Err(err).Msg("failed to store lead name")
		}
	}

	if slot, missing := res.NextMissing(); missing {
		return turn{intent: reply.IntentAskSlot, data: reply.Data{Slot: slot}, decision: decisionAsk}, nil
	}
	if p.Config.MinConfidence > 0 && res.Confidence < p.Config.MinConfidence {
		logger.Info().Int("confidence", res.Confidence).Msg("confidence below threshold, asking to confirm")
		return turn{intent: reply.IntentAskSlot, decision: decisionLowConfidence}, nil
	}
	return p.book(ctx, db, msg, lead, res)
}

func degraded() turn {
	return turn{intent: reply.IntentError, decision: decisionDegraded}
}

func (p *Pipeline) extract(ctx context.Context, msg *domain.Message, history []domain.Message) (res domain.ExtractionResult, err error) {
	ctx, end := stage(ctx, "extract")
	defer func() { end(err) }()

	req := extraction.Request{Text: msg.Content}
	for _, h := range history {
		req.History = append(req.History, h.Content)
	}

	ctx, cancel := withTimeout(ctx, p.Config.ExtractTimeout)
	defer cancel()
	res, err = p.Analyzer.Analyze(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

func (p *Pipeline) book(ctx context.Context, db *gorm.DB, msg *domain.Message, lead *domain.Lead, res domain.ExtractionResult) (turn, error) {
	logger := log.Ctx(ctx)

	svc, known := p.Catalog.Resolve(domain.Str(res.Service))
	if !known {
		logger.Debug().Str("service", svc.Name).Msg("service not in catalog, using default duration")
	}

	existing, err := repo.GetAppointmentBySourceMessage(ctx, db, msg.ID)
	switch {
	case err == nil:
		logger.Info().Uint("appointment_id", existing.ID).Msg("message already booked, confirming existing appointment")
		return p.confirmed(existing, decisionAlreadyBooked), nil
	case !errors.Is(err, repo.ErrNotFound):
		return turn{}, fmt.Errorf("check existing appointment: %w", err)
	}

	crit := domain.Criteria{
		Service:         svc.Name,
		Date:            domain.Str(res.PreferredDate),
		Time:            domain.Str(res.PreferredTime),
		Duration:        svc.Duration,
		SourceMessageID: msg.ID,
	}

	slots, err := p.listSlots(ctx, crit)
	if err != nil {
		logger.Warn().Err(err).Str("pref_date", crit.Date).Str("pref_time", crit.Time).Msg("availability lookup failed")
		return degraded(), nil
	}
	if len(slots) == 0 {
		return turn{intent: reply.IntentNoAvailability, decision: decisionNoAvailability}, nil
	}

	conf, err := p.reserve(ctx, slots[0], *lead, crit)
	if errors.Is(err, repo.ErrDuplicate) {
		if prior, gerr := repo.GetAppointmentBySourceMessage(ctx, db, msg.ID); gerr == nil {
			return p.confirmed(prior, decisionAlreadyBooked), nil
		}
	}
	if err != nil {
		logger.Warn().Err(err).
			Bool("race", errors.Is(err, availability.ErrReservationFailed)).
			Str("slot", slots[0].String()).
			Msg("reservation failed")
		return degraded(), nil
	}
	if conf.Slot.Start.IsZero() {
		conf.Slot = slots[0]
	}

	// The calendar may have stored the booking as its commit point.
	appt := conf.Appointment
	if appt == nil {
		msgID := msg.ID
		appt = &domain.Appointment{
			LeadID:          lead.ID,
			Service:         svc.Name,
			StartAt:         conf.Slot.Start.UTC(),
			EndAt:           conf.Slot.End.UTC(),
			Status:          domain.AppointmentPending,
			ExternalRef:     conf.ExternalRef,
			SourceMessageID: &msgID,
		}
		if err := repo.CreateAppointment(ctx, db, appt); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				if prior, gerr := repo.GetAppointmentBySourceMessage(ctx, db, msg.ID); gerr == nil {
					return p.confirmed(prior, decisionAlreadyBooked), nil
				}
			}
			logger.Error().Err(err).Str("external_ref", conf.ExternalRef).Msg("reserved but failed to store appointment")
			return turn{}, fmt.Errorf("store appointment: %w", err)
		}
	}

	logger.Info().
		Uint("appointment_id", appt.ID).
		Str("service", appt.Service).
		Time("start_at", appt.StartAt).
		Str("external_ref", appt.ExternalRef).
		Msg("appointment booked")
	return p.confirmed(appt, decisionBook), nil
}

func (p *Pipeline) confirmed(a *domain.Appointment, decision string) turn {
	loc := p.Config.Location
	return turn{
		intent: reply.IntentConfirm,
		data: reply.Data{
			Service: a.Service,
			When:    domain.Slot{Start: a.StartAt.In(loc), End: a.EndAt.In(loc)},
		},
		decision: decision,
		booked:   a,
	}
}

func (p *Pipeline) listSlots(ctx context.Context, c domain.Criteria) (slots []domain.Slot, err error) {
	ctx, end := stage(ctx, "list_slots")
	defer func() { end(err) }()

	ctx, cancel := withTimeout(ctx, p.Config.AvailabilityTimeout)
	defer cancel()
	return p.Calendar.ListSlots(ctx, c)
}

func (p *Pipeline) reserve(ctx context.Context, slot domain.Slot, lead domain.Lead, c domain.Criteria) (conf availability.Confirmation, err error) {
	ctx, end := stage(ctx, "reserve")
	defer func() { end(err) }()

	ctx, cancel := withTimeout(ctx, p.Config.AvailabilityTimeout)
	defer cancel()
	return p.Calendar.Reserve(ctx, slot, lead, c)
}

func (p *Pipeline) deliver(ctx context.Context, to, text string) (err error) {
	ctx, end := stage(ctx, "deliver")
	defer func() { end(err) }()

	ctx, cancel := withTimeout(ctx, p.Config.DeliveryTimeout)
	defer cancel()
	return p.Sender.Send(ctx, to, text)
}
