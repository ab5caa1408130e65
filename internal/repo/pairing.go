package repo

import (
	"context"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetCompetition(ctx context.Context, tx *gorm.DB, id uint64) (*model.Competition, error) {
	var c model.Competition
	if err := r.conn(ctx, tx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCompetitionForUpdate locks the competition row; registrations for one event serialize on it.
func (r *Repository) GetCompetitionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Competition, error) {
	var c model.Competition
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCategoryForUpdate locks the category row so capacity counts and the following write serialize.
func (r *Repository) GetCategoryForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Category, error) {
	var c model.Category
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetCategory(ctx context.Context, tx *gorm.DB, id uint64) (*model.Category, error) {
	var c model.Category
	if err := r.conn(ctx, tx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// activePairings scopes a query to pairings that count against capacity.
func activePairings(db *gorm.DB, eventID uint64, categoryID *uint64, excludeID uint64) *gorm.DB {
	db = db.Where("pairings.event_id = ? AND pairings.pairing_status <> ? AND pairings.lifecycle_status <> ?",
		eventID, model.PairingCancelled, model.LifecycleCancelledIncomplete)
	if categoryID != nil {
		db = db.Where("pairings.category_id = ?", *categoryID)
	}
	if excludeID != 0 {
		db = db.Where("pairings.id <> ?", excludeID)
	}
	return db
}

// CountActivePairings counts teams. A nil category counts the whole event.
func (r *Repository) CountActivePairings(ctx context.Context, tx *gorm.DB, eventID uint64, categoryID *uint64, excludeID uint64) (int64, error) {
	var n int64
	err := activePairings(r.conn(ctx, tx).Model(&model.Pairing{}), eventID, categoryID, excludeID).Count(&n).Error
	return n, err
}

// CountFilledSlots counts occupied seats across active pairings.
func (r *Repository) CountFilledSlots(ctx context.Context, tx *gorm.DB, eventID uint64, categoryID *uint64, excludeID uint64) (int64, error) {
	var n int64
	db := r.conn(ctx, tx).Model(&model.PairingSlot{}).
		Joins("JOIN pairings ON pairings.id = pairing_slots.pairing_id").
		Where("pairing_slots.slot_status = ?", model.SlotFilled)
	err := activePairings(db, eventID, categoryID, excludeID).Count(&n).Error
	return n, err
}

// CreatePairing inserts the pairing together with its slots.
func (r *Repository) CreatePairing(ctx context.Context, tx *gorm.DB, p *model.Pairing) error {
	return r.conn(ctx, tx).Create(p).Error
}

func (r *Repository) GetPairing(ctx context.Context, tx *gorm.DB, id uint64) (*model.Pairing, error) {
	var p model.Pairing
	if err := r.conn(ctx, tx).Preload("Slots").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPairingForUpdate locks the pairing row and loads its slots.
func (r *Repository) GetPairingForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Pairing, error) {
	var p model.Pairing
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("pairing_id = ?", p.ID).Order("id").Find(&p.Slots).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

const (
	colLinkToken   = "partner_link_token"
	colInviteToken = "partner_invite_token"
	colSwapToken   = "swap_confirm_token"
)

func (r *Repository) findPairingIDBy(ctx context.Context, tx *gorm.DB, column, token string) (uint64, error) {
	var p model.Pairing
	if err := tx.WithContext(ctx).Select("id").Where(column+" = ?", token).First(&p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

// holdsToken reports whether the locked row still carries token in column.
func holdsToken(p *model.Pairing, column, token string) bool {
	var stored *string
	switch column {
	case colLinkToken:
		stored = p.PartnerLinkToken
	case colInviteToken:
		stored = p.PartnerInviteToken
	case colSwapToken:
		stored = p.SwapConfirmToken
	}
	return stored != nil && *stored == token
}

// lockHoldingToken locks pairing id and reports not found when column no longer holds token,
// e.g. the link was replaced between the lookup and the lock.
func (r *Repository) lockHoldingToken(ctx context.Context, tx *gorm.DB, id uint64, column, token string) (*model.Pairing, error) {
	p, err := r.GetPairingForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !holdsToken(p, column, token) {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

// FindPairingByLinkToken resolves a partner link (or legacy invite) token and locks the pairing.
func (r *Repository) FindPairingByLinkToken(ctx context.Context, tx *gorm.DB, token string) (*model.Pairing, error) {
	column := colLinkToken
	id, err := r.findPairingIDBy(ctx, tx, column, token)
	if notFound(err) {
		column = colInviteToken
		id, err = r.findPairingIDBy(ctx, tx, column, token)
	}
	if err != nil {
		return nil, err
	}
	return r.lockHoldingToken(ctx, tx, id, column, token)
}

// FindPairingBySwapToken resolves a swap-confirm token and locks the pairing.
func (r *Repository) FindPairingBySwapToken(ctx context.Context, tx *gorm.DB, token string) (*model.Pairing, error) {
	id, err := r.findPairingIDBy(ctx, tx, colSwapToken, token)
	if err != nil {
		return nil, err
	}
	return r.lockHoldingToken(ctx, tx, id, colSwapToken, token)
}

// SavePairing writes the pairing with optimistic lock and its slots. p.Version is bumped on success.
func (r *Repository) SavePairing(ctx context.Context, tx *gorm.DB, p *model.Pairing) error {
	db := tx.WithContext(ctx)
	now := time.Now().UTC()
	res := db.Model(&model.Pairing{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"category_id":                   p.CategoryID,
			"payment_mode":                  p.PaymentMode,
			"join_mode":                     p.JoinMode,
			"pairing_status":                p.PairingStatus,
			"registration_status":           p.RegistrationStatus,
			"lifecycle_status":              p.LifecycleStatus,
			"partner_user_id":               p.PartnerUserID,
			"partner_invite_token":          p.PartnerInviteToken,
			"partner_link_token":            p.PartnerLinkToken,
			"partner_link_expires_at":       p.PartnerLinkExpiresAt,
			"partner_invited_at":            p.PartnerInvitedAt,
			"partner_accepted_at":           p.PartnerAcceptedAt,
			"swap_confirm_token":            p.SwapConfirmToken,
			"swap_confirm_expires_at":       p.SwapConfirmExpiresAt,
			"deadline_at":                   p.DeadlineAt,
			"partner_swap_allowed_until_at": p.PartnerSwapAllowedUntilAt,
			"version":                       p.Version + 1,
			"updated_at":                    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	p.Version++
	p.UpdatedAt = now
	for i := range p.Slots {
		s := &p.Slots[i]
		if err := db.Model(&model.PairingSlot{}).Where("id = ?", s.ID).
			Updates(map[string]interface{}{
				"slot_status":     s.SlotStatus,
				"payment_status":  s.PaymentStatus,
				"invited_user_id": s.InvitedUserID,
				"invited_contact": s.InvitedContact,
				"profile_id":      s.ProfileID,
				"amount_paid":     s.AmountPaid,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// ListDuePairings returns non-terminal, unconfirmed pairings whose deadline has passed, ordered by
// id and starting after afterID.
func (r *Repository) ListDuePairings(ctx context.Context, now time.Time, afterID uint64, limit int) ([]model.Pairing, error) {
	var ps []model.Pairing
	err := r.db.WithContext(ctx).
		Where("deadline_at IS NOT NULL AND deadline_at <= ?", now.UTC()).
		Where("id > ?", afterID).
		Where("registration_status NOT IN ?", []model.RegistrationStatus{
			model.RegistrationConfirmed, model.RegistrationExpired, model.RegistrationCancelled,
		}).
		Order("id").Limit(limit).Find(&ps).Error
	return ps, err
}
