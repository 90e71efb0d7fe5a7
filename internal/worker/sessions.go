package worker

import (
	"context"
	"log/slog"
)

// SessionPurger deletes sessions past their expiry.
type SessionPurger interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

// SessionSweep removes expired sessions so the session table stays small.
// Expired sessions already fail to resolve; this only reclaims rows.
type SessionSweep struct {
	store  SessionPurger
	logger *slog.Logger
}

func NewSessionSweep(store SessionPurger, logger *slog.Logger) *SessionSweep {
	return &SessionSweep{store: store, logger: logger}
}

func (s *SessionSweep) Name() string { return "session_sweep" }

func (s *SessionSweep) Run(ctx context.Context) error {
	n, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("Deleted expired sessions", "count", n)
	}
	return nil
}
