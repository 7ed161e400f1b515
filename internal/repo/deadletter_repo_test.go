package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-atendente/internal/domain"
)

func TestDeadLetters_CreateListRequeue(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		dl := &domain.DeadLetter{JobID: "j", ConversationID: 1, MessageID: uint(i), Attempts: 5, LastError: "db down"}
		if err := CreateDeadLetter(ctx, db, dl); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := CountDeadLetters(ctx, db)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}
	page, _ := ListDeadLettersPage(ctx, db, 0, 10)
	if len(page) != 3 || page[0].MessageID != 3 {
		t.Fatalf("expected newest first: %+v", page)
	}

	if err := MarkDeadLetterRequeued(ctx, db, page[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if err := MarkDeadLetterRequeued(ctx, db, page[0].ID, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second requeue should be ErrNotFound, got %v", err)
	}
	n, _ = CountDeadLetters(ctx, db)
	if n != 2 {
		t.Fatalf("pending count = %d; want 2", n)
	}

	got, err := GetDeadLetter(ctx, db, page[0].ID)
	if err != nil || got.RequeuedAt == nil {
		t.Fatalf("get: %v %+v", err, got)
	}
}
