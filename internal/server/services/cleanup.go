package services

import (
	"context"
	"time"
)

const cleanupTimeout = 10 * time.Second

// purgeExpiredSessions deletes overdue session rows in the background. It
// runs at most once per cleanupInterval and never reports to the caller.
func (s *KeyFlowService) purgeExpiredSessions() {
	now := s.now()
	last := s.lastCleanup.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < s.cleanupInterval {
		return
	}
	if !s.lastCleanup.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		n, err := s.repomanager.Sessions(s.db).DeleteExpired(ctx, now)
		if err != nil {
			s.logger.Warn(ctx, "expired session cleanup failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Debug(ctx, "expired sessions removed", "count", n)
		}
	}()
}
