package repo

import (
	"context"

	"gorm.io/gorm"
)

// SessionProvider hands out a store handle scoped to one unit of work.
type SessionProvider interface {
	WithSession(ctx context.Context, fn func(db *gorm.DB) error) error
}

// ConnSessions pins each session to a single pooled connection, released when
// fn returns, panics, or fails.
type ConnSessions struct {
	DB *gorm.DB
}

// NewSessions wraps db as a SessionProvider.
func NewSessions(db *gorm.DB) *ConnSessions { return &ConnSessions{DB: db} }

// WithSession runs fn on a dedicated connection.
func (s *ConnSessions) WithSession(ctx context.Context, fn func(db *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Connection(fn)
}

type dbKey struct{}

// ContextWithDB returns ctx carrying db, so collaborators called during a
// session reuse its connection instead of taking another from the pool.
func ContextWithDB(ctx context.Context, db *gorm.DB) context.Context {
	return context.WithValue(ctx, dbKey{}, db)
}

// DBFromContext returns the handle stored by ContextWithDB, or fallback.
func DBFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if db, ok := ctx.Value(dbKey{}).(*gorm.DB); ok && db != nil {
		return db
	}
	return fallback
}
