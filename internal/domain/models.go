// Package domain defines the persistence models for leads, conversations,
// messages, and appointments. These types are mapped with GORM and form the
// core data layer of the scheduling assistant.
package domain

import (
	"errors"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation thread.
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationResolved ConversationStatus = "resolved"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderLead  Sender = "lead"
	SenderBot   Sender = "bot"
	SenderHuman Sender = "human"
)

// AppointmentStatus is the lifecycle state of a booking.
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Valid reports whether s is one of the known appointment statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentPending, AppointmentConfirmed, AppointmentCompleted, AppointmentCancelled:
		return true
	}
	return false
}

// ErrInvalidWindow is returned when an appointment does not end strictly
// after it starts.
var ErrInvalidWindow = errors.New("appointment end must be after start")

// ErrInvalidStatus is returned for an appointment status outside the known set.
var ErrInvalidStatus = errors.New("invalid appointment status")

// Lead represents a customer contact identified by a channel address.
//
// Fields:
//   - ID: integer primary key.
//   - Phone: channel address (e.g. "whatsapp:+5511999999999"); unique.
//   - Name: optional display name, learned from extraction or set manually.
//   - CreatedAt: first contact time.
//
// Conversations (and through them, messages) are cascade-deleted with the lead.
type Lead struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Phone     string    `json:"phone"      gorm:"type:varchar(64);not null;uniqueIndex:ux_leads_phone"`
	Name      *string   `json:"name,omitempty" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for Lead.
func (Lead) TableName() string { return "leads" }

// Conversation is one dialogue thread with a lead. At most one conversation
// per lead may be open at a time, enforced by a partial unique index.
//
// Fields:
//   - ID: integer primary key.
//   - LeadID: owning lead (indexed).
//   - Status: open, closed, or resolved.
//   - LastMessageAt: timestamp of the most recent inbound or outbound message.
type Conversation struct {
	ID            uint               `json:"id"              gorm:"primaryKey"`
	LeadID        uint               `json:"lead_id"         gorm:"not null;index;uniqueIndex:ux_conversations_open_lead,where:status = 'open'"`
	Status        ConversationStatus `json:"status"          gorm:"type:varchar(16);not null;default:'open';index;check:status IN ('open','closed','resolved')"`
	LastMessageAt time.Time          `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`

	// Lead is the owner. Conversations are cascade-deleted with it.
	Lead Lead `json:"-" gorm:"foreignKey:LeadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single immutable turn in a conversation. Messages are ordered
// by Timestamp (ties broken by ID) within their conversation.
//
// ProviderID carries the messaging provider's identifier for inbound turns
// (e.g. a Twilio MessageSid) and is unique when present, so a redelivered
// webhook cannot store the same turn twice.
type Message struct {
	ID             uint      `json:"id"              gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"not null;index:idx_conversation_msgs,priority:1"`
	Sender         Sender    `json:"sender"          gorm:"type:varchar(16);not null;check:sender IN ('lead','bot','human')"`
	Content        string    `json:"content"         gorm:"type:text;not null"`
	ProviderID     *string   `json:"provider_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_messages_provider_id"`
	Timestamp      time.Time `json:"timestamp"       gorm:"not null;index:idx_conversation_msgs,priority:2"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Appointment is a committed booking. It references a lead but is independent
// of any conversation.
//
// Fields:
//   - Service: canonical service label (e.g. "corte").
//   - StartAt / EndAt: booked window; EndAt is strictly after StartAt.
//   - Status: pending, confirmed, completed, or cancelled.
//   - ExternalRef: identifier in the calendar backend (e.g. event id).
//   - SourceMessageID: inbound message whose processing produced the booking;
//     unique so reprocessing a message cannot book twice.
type Appointment struct {
	ID              uint              `json:"id"          gorm:"primaryKey"`
	LeadID          uint              `json:"lead_id"     gorm:"not null;index"`
	Service         string            `json:"service"     gorm:"type:varchar(255);not null"`
	StartAt         time.Time         `json:"start_at"    gorm:"not null;index"`
	EndAt           time.Time         `json:"end_at"      gorm:"not null;check:chk_appointments_window,end_at > start_at"`
	Status          AppointmentStatus `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index"`
	ExternalRef     string            `json:"external_ref,omitempty" gorm:"type:varchar(255)"`
	SourceMessageID *uint             `json:"source_message_id,omitempty" gorm:"uniqueIndex:ux_appointments_source_msg"`
	CreatedAt       time.Time         `json:"created_at"`

	Lead Lead `json:"-" gorm:"foreignKey:LeadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Appointment.
func (Appointment) TableName() string { return "appointments" }

// Validate checks the invariants that do not need the database.
func (a *Appointment) Validate() error {
	if !a.EndAt.After(a.StartAt) {
		return ErrInvalidWindow
	}
	if a.Status == "" {
		a.Status = AppointmentPending
	}
	if !a.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// DeadLetter records a pipeline job abandoned after exhausting its retry
// budget, kept for operator inspection and manual requeue.
type DeadLetter struct {
	ID             uint       `json:"id"              gorm:"primaryKey"`
	JobID          string     `json:"job_id"          gorm:"type:varchar(64);not null;index"`
	ConversationID uint       `json:"conversation_id" gorm:"not null;index"`
	MessageID      uint       `json:"message_id"      gorm:"not null;index"`
	Attempts       int        `json:"attempts"        gorm:"not null"`
	LastError      string     `json:"last_error"      gorm:"type:text"`
	CreatedAt      time.Time  `json:"created_at"      gorm:"index"`
	RequeuedAt     *time.Time `json:"requeued_at,omitempty"`
}

// TableName returns the database table name for DeadLetter.
func (DeadLetter) TableName() string { return "dead_letters" }
