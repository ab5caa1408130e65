package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"gorm.io/gorm"
)

// EnqueueDueExpirations enqueues one deadline event per due pairing and deadline, up to limit new
// events. Pairings whose deadline event already exists are paged past, so a failed or dead-lettered
// event does not hold back the pairings behind it. It returns the number of events enqueued.
func (s *PairingService) EnqueueDueExpirations(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now()
	enqueued := 0
	var after uint64
	for enqueued < limit {
		due, err := s.repo.ListDuePairings(ctx, now, after, limit)
		if err != nil {
			return enqueued, fmt.Errorf("list due pairings: %w", err)
		}
		for i := range due {
			p := &due[i]
			after = p.ID
			key := fmt.Sprintf("pairing:%d:deadline:%d", p.ID, p.DeadlineAt.Unix())
			existing, err := s.repo.FindOutboxByDedupeKey(ctx, nil, key)
			if err != nil {
				return enqueued, err
			}
			if existing != nil {
				if existing.Status == model.OutboxFailed || existing.Status == model.OutboxDeadLetter {
					s.log.Warnw("deadline event stuck", "pairing_id", p.ID, "outbox_id", existing.ID, "status", existing.Status)
				}
				continue
			}
			err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
				return s.emit(ctx, tx, p, EventDeadlineReached, key, nil, s.event(p))
			})
			if err != nil {
				return enqueued, err
			}
			enqueued++
			if enqueued == limit {
				break
			}
		}
		if len(due) < limit {
			break
		}
	}
	return enqueued, nil
}

// ExpirePairing cancels a pairing whose deadline passed before both seats were settled.
// It returns false without changes for pairings that are terminal, confirmed or not yet due.
func (s *PairingService) ExpirePairing(ctx context.Context, pairingID uint64) (bool, error) {
	now := s.now()
	var out *model.Pairing
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.lock(ctx, tx, pairingID)
		if err != nil {
			return err
		}
		if p.RegistrationStatus.Terminal() || pairing.Settled(p) || !pairing.Expired(now, p.DeadlineAt) {
			return nil
		}
		clearInvite(p)
		clearSwap(p)
		tr := pairing.Terminate(p, model.RegistrationExpired)
		if err := s.commit(ctx, tx, p, tr, nil); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, p, EventPairingExpired, fmt.Sprintf("pairing:%d:expired", p.ID), nil, s.event(p)); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, nil
	}
	s.log.Infow("pairing expired", "pairing_id", out.ID, "deadline_at", out.DeadlineAt)
	s.cache(ctx, out)
	return true, nil
}
