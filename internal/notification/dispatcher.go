package notification

import (
	"context"
	"fmt"
	"time"
)

// Run delivers pending messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := s.Dispatch(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("outbox dispatch failed", "error", err)
		}
	}
}

// Dispatch claims one batch of pending messages and delivers them, returning
// the number sent. Failed deliveries go back to pending until MaxAttempts.
func (s *Service) Dispatch(ctx context.Context) (int, error) {
	msgs, err := s.outbox.ClaimPending(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range msgs {
		if err := s.limiter.Wait(ctx); err != nil {
			s.release(context.WithoutCancel(ctx), msg, err)
			return sent, err
		}

		sender, ok := s.senders[msg.Channel]
		if !ok {
			s.markFailed(ctx, msg, fmt.Sprintf("no sender for channel %s", msg.Channel))
			continue
		}

		if err := sender.Send(ctx, msg); err != nil {
			if msg.Attempts >= MaxAttempts {
				s.markFailed(ctx, msg, err.Error())
			} else {
				s.release(ctx, msg, err)
			}
			continue
		}

		if err := s.outbox.MarkSent(ctx, msg.ID, s.now().UTC()); err != nil {
			s.log.Warn("outbox mark sent failed", "id", msg.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) release(ctx context.Context, msg Message, cause error) {
	if err := s.outbox.MarkPending(ctx, msg.ID, cause.Error()); err != nil {
		s.log.Warn("outbox mark pending failed", "id", msg.ID, "error", err)
	}
}

func (s *Service) markFailed(ctx context.Context, msg Message, reason string) {
	s.log.Warn("notification failed", "id", msg.ID, "channel", msg.Channel, "kind", msg.Kind, "error", reason)
	if err := s.outbox.MarkFailed(ctx, msg.ID, reason); err != nil {
		s.log.Warn("outbox mark failed failed", "id", msg.ID, "error", err)
	}
}
