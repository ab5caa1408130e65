package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
)

var errCacheDisabled = errors.New("status cache disabled")

// StatusTTL bounds how stale a cached pairing status may be.
const StatusTTL = 5 * time.Minute

// StatusSnapshot is the cached read model of a pairing's status columns.
type StatusSnapshot struct {
	PairingID          uint64                   `json:"pairing_id"`
	RegistrationStatus model.RegistrationStatus `json:"registration_status"`
	LifecycleStatus    model.LifecycleStatus    `json:"lifecycle_status"`
	PairingStatus      model.PairingStatus      `json:"pairing_status"`
	Version            uint64                   `json:"version"`
}

func SnapshotOf(p *model.Pairing) StatusSnapshot {
	return StatusSnapshot{
		PairingID:          p.ID,
		RegistrationStatus: p.RegistrationStatus,
		LifecycleStatus:    p.LifecycleStatus,
		PairingStatus:      p.PairingStatus,
		Version:            p.Version,
	}
}

func statusKey(id uint64) string { return fmt.Sprintf("pairing:status:%d", id) }

// CachePairingStatus writes Redis.
func (r *Repository) CachePairingStatus(ctx context.Context, snap StatusSnapshot) error {
	if r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, statusKey(snap.PairingID), string(b), StatusTTL).Err()
}

// GetCachedPairingStatus reads Redis. redis.Nil is returned on a miss.
func (r *Repository) GetCachedPairingStatus(ctx context.Context, pairingID uint64) (*StatusSnapshot, error) {
	if r.rdb == nil {
		return nil, errCacheDisabled
	}
	str, err := r.rdb.Get(ctx, statusKey(pairingID)).Result()
	if err != nil {
		return nil, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal([]byte(str), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
