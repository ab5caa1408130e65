package service

import (
	"context"

	"github.com/richardliu001/doubles-registration/internal/pairing"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"gorm.io/gorm"
)

// CapacityRequest describes the pairing about to occupy capacity.
type CapacityRequest struct {
	EventID    uint64
	CategoryID *uint64
	// ExcludePairingID is set when an existing pairing is being updated.
	ExcludePairingID uint64
	// Players is the number of filled seats the pairing will hold after the mutation.
	Players int
}

// CapacityGuard enforces event and category limits inside the caller's transaction. It locks the
// competition and category rows before counting, so concurrent writers for the last seat queue
// behind each other until the caller commits.
type CapacityGuard struct {
	repo repo.RepositoryInterface
}

func NewCapacityGuard(r repo.RepositoryInterface) *CapacityGuard { return &CapacityGuard{repo: r} }

// Check returns EVENT_FULL, CATEGORY_FULL or CATEGORY_PLAYERS_FULL when the mutation would
// exceed a configured limit. Unset limits are unlimited.
func (g *CapacityGuard) Check(ctx context.Context, tx *gorm.DB, req CapacityRequest) error {
	comp, err := g.repo.GetCompetitionForUpdate(ctx, tx, req.EventID)
	if err != nil {
		return mapNotFound(err, pairing.ErrEventNotFound)
	}
	if comp.MaxEntriesTotal != nil {
		n, err := g.repo.CountActivePairings(ctx, tx, req.EventID, nil, req.ExcludePairingID)
		if err != nil {
			return err
		}
		if n+1 > int64(*comp.MaxEntriesTotal) {
			return pairing.ErrEventFull
		}
	}
	if req.CategoryID == nil {
		return nil
	}
	return g.CheckCategoryCapacity(ctx, tx, req)
}

// CheckCategoryCapacity checks only the category limits.
func (g *CapacityGuard) CheckCategoryCapacity(ctx context.Context, tx *gorm.DB, req CapacityRequest) error {
	if req.CategoryID == nil {
		return nil
	}
	cat, err := g.repo.GetCategoryForUpdate(ctx, tx, *req.CategoryID)
	if err != nil {
		return mapNotFound(err, pairing.ErrCategoryNotFound)
	}
	if cat.EventID != req.EventID {
		return pairing.ErrCategoryNotFound
	}
	if cat.CapacityTeams != nil {
		n, err := g.repo.CountActivePairings(ctx, tx, req.EventID, req.CategoryID, req.ExcludePairingID)
		if err != nil {
			return err
		}
		if n+1 > int64(*cat.CapacityTeams) {
			return pairing.ErrCategoryFull
		}
	}
	if cat.CapacityPlayers != nil {
		n, err := g.repo.CountFilledSlots(ctx, tx, req.EventID, req.CategoryID, req.ExcludePairingID)
		if err != nil {
			return err
		}
		players := req.Players
		if players <= 0 {
			players = 1
		}
		if n+int64(players) > int64(*cat.CapacityPlayers) {
			return pairing.ErrCategoryPlayersFull
		}
	}
	return nil
}
