package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-atendente/internal/domain"
	"github.com/tbourn/go-atendente/internal/queue"
	"github.com/tbourn/go-atendente/internal/repo"
	"github.com/tbourn/go-atendente/internal/utils"
)

// DeadLetterService stores abandoned jobs and lets operators requeue them.
type DeadLetterService struct {
	DB    *gorm.DB
	Queue queue.Queue
}

// Record stores job as a dead letter.
func (s *DeadLetterService) Record(ctx context.Context, job queue.Job, cause error) error {
	dl := &domain.DeadLetter{
		JobID:          job.ID,
		ConversationID: job.ConversationID,
		MessageID:      job.MessageID,
		Attempts:       job.Attempt + 1,
	}
	if cause != nil {
		dl.LastError = cause.Error()
	}
	return repo.CreateDeadLetter(ctx, s.DB, dl)
}

// ListPage returns pending dead letters, newest first.
func (s *DeadLetterService) ListPage(ctx context.Context, page, pageSize int) ([]domain.DeadLetter, int64, error) {
	p := utils.NewPage(page, pageSize)
	total, err := repo.CountDeadLetters(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DeadLetter{}, 0, nil
	}
	items, err := repo.ListDeadLettersPage(ctx, s.DB, p.Offset(), p.Size)
	return items, total, err
}

// Requeue enqueues a fresh first-attempt job for the dead letter and marks
// it requeued.
func (s *DeadLetterService) Requeue(ctx context.Context, id uint) (*queue.Job, error) {
	dl, err := repo.GetDeadLetter(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDeadLetterNotFound
		}
		return nil, err
	}
	if dl.RequeuedAt != nil {
		return nil, ErrDeadLetterNotFound
	}

	job := queue.NewJob(dl.ConversationID, dl.MessageID).WithTrace(ctx)
	if err := s.Queue.Enqueue(ctx, job, 0); err != nil {
		return nil, err
	}
	if err := repo.MarkDeadLetterRequeued(ctx, s.DB, id, time.Now().UTC()); err != nil {
		// A concurrent requeue won; the extra job is absorbed by the
		// pipeline's completion record.
		log.Ctx(ctx).Warn().Err(err).Uint("dead_letter_id", id).Msg("failed to mark dead letter requeued")
	}
	return &job, nil
}
