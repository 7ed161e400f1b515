package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-atendente/internal/domain"
)

func TestCreateMessage_InsertsAndStoresProviderID(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_, conv := seedConversation(t, db, "p")

	msg, err := CreateMessage(ctx, db, conv.ID, domain.SenderLead, "oi", "SM1")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID == 0 || msg.ProviderID == nil || *msg.ProviderID != "SM1" || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}

	got, err := GetMessageByProviderID(ctx, db, "SM1")
	if err != nil || got.ID != msg.ID {
		t.Fatalf("lookup by provider id: %v %+v", err, got)
	}

	if _, err := CreateMessage(ctx, db, conv.ID, domain.SenderLead, "oi", "SM1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Bot replies carry no provider id and never collide.
	for i := 0; i < 2; i++ {
		if _, err := CreateMessage(ctx, db, conv.ID, domain.SenderBot, "ok", ""); err != nil {
			t.Fatalf("bot message %d: %v", i, err)
		}
	}
}

func TestCreateMessage_UnknownConversation_FKError(t *testing.T) {
	db := newRepoDB(t)
	if _, err := CreateMessage(context.Background(), db, 777, domain.SenderLead, "x", ""); err == nil {
		t.Fatalf("expected FK violation")
	}
}

func TestListMessages_OrderAndPaging(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_, conv := seedConversation(t, db, "p")

	var ids []uint
	for _, txt := range []string{"a", "b", "c", "d"} {
		m, err := CreateMessage(ctx, db, conv.ID, domain.SenderLead, txt, "")
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	all, err := ListMessages(ctx, db, conv.ID, 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("ListMessages: %v len=%d", err, len(all))
	}
	for i := range all {
		if all[i].ID != ids[i] {
			t.Fatalf("order mismatch at %d", i)
		}
	}

	page, _ := ListMessagesPage(ctx, db, conv.ID, 1, 2)
	if len(page) != 2 || page[0].Content != "b" || page[1].Content != "c" {
		t.Fatalf("unexpected page: %+v", page)
	}

	n, err := CountMessages(ctx, db, conv.ID)
	if err != nil || n != 4 {
		t.Fatalf("CountMessages = %d, %v", n, err)
	}
}

func TestListLeadHistory_OnlyEarlierLeadTurns(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_, conv := seedConversation(t, db, "p")

	m1, _ := CreateMessage(ctx, db, conv.ID, domain.SenderLead, "oi", "")
	CreateMessage(ctx, db, conv.ID, domain.SenderBot, "Qual serviço?", "")
	m3, _ := CreateMessage(ctx, db, conv.ID, domain.SenderLead, "corte", "")
	current, _ := CreateMessage(ctx, db, conv.ID, domain.SenderLead, "sexta", "")

	hist, err := ListLeadHistory(ctx, db, conv.ID, current.ID, 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != m1.ID || hist[1].ID != m3.ID {
		t.Fatalf("unexpected history: %+v", hist)
	}

	last, _ := ListLeadHistory(ctx, db, conv.ID, current.ID, 1)
	if len(last) != 1 || last[0].ID != m3.ID {
		t.Fatalf("limit should keep the most recent turn: %+v", last)
	}

	none, _ := ListLeadHistory(ctx, db, conv.ID, current.ID, 0)
	if none != nil {
		t.Fatalf("limit 0 should return nil")
	}
}
