package repo

import (
	"context"
	"errors"
	"testing"
)

func TestGetOrCreateLead_CreatesOnceAndReuses(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	a, err := GetOrCreateLead(ctx, db, "whatsapp:+551100")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	b, err := GetOrCreateLead(ctx, db, "whatsapp:+551100")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if a.ID == 0 || a.ID != b.ID {
		t.Fatalf("expected same lead, got %d and %d", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not set")
	}
}

func TestGetLead_NotFound(t *testing.T) {
	db := newRepoDB(t)
	if _, err := GetLead(context.Background(), db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetLeadName_OnlyWhenEmpty(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	l, _ := GetOrCreateLead(ctx, db, "p")

	if err := SetLeadName(ctx, db, l.ID, "Ana"); err != nil {
		t.Fatalf("SetLeadName: %v", err)
	}
	if err := SetLeadName(ctx, db, l.ID, "Bia"); err != nil {
		t.Fatalf("SetLeadName again: %v", err)
	}
	got, _ := GetLead(ctx, db, l.ID)
	if got.Name == nil || *got.Name != "Ana" {
		t.Fatalf("name = %v; want Ana", got.Name)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
	if !isUniqueViolation(errors.New("UNIQUE constraint failed: leads.phone")) {
		t.Fatalf("sqlite text not recognised")
	}
	if !isUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "ux_leads_phone" (SQLSTATE 23505)`)) {
		t.Fatalf("postgres text not recognised")
	}
	if isUniqueViolation(errors.New("database is locked")) {
		t.Fatalf("unexpected match")
	}
}
