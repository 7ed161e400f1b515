package domain

import "time"

// Idempotency scopes.
const (
	// ScopeWebhook keys inbound webhook deliveries by the provider's
	// idempotency token; RefID is the stored message.
	ScopeWebhook = "webhook"
	// ScopePipeline keys completed pipeline runs by job key; RefID is the
	// persisted bot reply.
	ScopePipeline = "pipeline"
)

// Idempotency records that an operation identified by (scope, key) already
// produced a result, so a retry can return that result without re-executing
// side effects.
type Idempotency struct {
	ID        uint      `gorm:"primaryKey"`
	Scope     string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_idempotency_scope_key,priority:1"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idempotency_scope_key,priority:2"`
	RefID     uint      `gorm:"not null"`
	Status    string    `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
