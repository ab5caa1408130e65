package repo

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/doubles-registration/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrConcurrentModification is returned when a version-guarded update lost the race.
var ErrConcurrentModification = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods (for service tests and fakes).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	AppendEventLog(ctx context.Context, tx *gorm.DB, entry *model.EventLogEntry) (*model.EventLogEntry, error)
	EventLogExists(ctx context.Context, tx *gorm.DB, orgID uint64, eventType, idemKey string) (bool, error)

	RecordOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) (*model.OutboxEvent, bool, error)
	PollOutbox(ctx context.Context, limit int, now time.Time) ([]model.OutboxEvent, error)
	GetOutboxEvent(ctx context.Context, id uint64) (*model.OutboxEvent, error)
	FindOutboxByDedupeKey(ctx context.Context, tx *gorm.DB, key string) (*model.OutboxEvent, error)
	MarkOutboxHandled(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkOutboxAttempt(ctx context.Context, id uint64, a OutboxAttempt) error

	GetCompetition(ctx context.Context, tx *gorm.DB, id uint64) (*model.Competition, error)
	GetCategory(ctx context.Context, tx *gorm.DB, id uint64) (*model.Category, error)
	GetCompetitionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Competition, error)
	GetCategoryForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Category, error)
	CountActivePairings(ctx context.Context, tx *gorm.DB, eventID uint64, categoryID *uint64, excludeID uint64) (int64, error)
	CountFilledSlots(ctx context.Context, tx *gorm.DB, eventID uint64, categoryID *uint64, excludeID uint64) (int64, error)

	CreatePairing(ctx context.Context, tx *gorm.DB, p *model.Pairing) error
	GetPairing(ctx context.Context, tx *gorm.DB, id uint64) (*model.Pairing, error)
	GetPairingForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Pairing, error)
	FindPairingByLinkToken(ctx context.Context, tx *gorm.DB, token string) (*model.Pairing, error)
	FindPairingBySwapToken(ctx context.Context, tx *gorm.DB, token string) (*model.Pairing, error)
	SavePairing(ctx context.Context, tx *gorm.DB, p *model.Pairing) error
	ListDuePairings(ctx context.Context, now time.Time, afterID uint64, limit int) ([]model.Pairing, error)

	FindTicketByIntent(ctx context.Context, tx *gorm.DB, intentID string, role model.SlotRole) (*model.Ticket, error)
	CreateTicket(ctx context.Context, tx *gorm.DB, t *model.Ticket) error
	DetachTickets(ctx context.Context, tx *gorm.DB, pairingID uint64, ownerUserID string) (int64, error)
	ClaimUnownedTicket(ctx context.Context, tx *gorm.DB, pairingID uint64, role model.SlotRole, ownerUserID string) (int64, error)

	ClaimNotification(ctx context.Context, tx *gorm.DB, n *model.NotificationDelivery) (bool, error)

	CachePairingStatus(ctx context.Context, snap StatusSnapshot) error
	GetCachedPairingStatus(ctx context.Context, pairingID uint64) (*StatusSnapshot, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db   *gorm.DB
	rdb  *redis.Client
	node *snowflake.Node
	log  *zap.SugaredLogger
}

// NewRepository constructs repo. rdb may be nil, in which case caching is disabled.
func NewRepository(db *gorm.DB, rdb *redis.Client, node *snowflake.Node, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, node: node, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// conn returns tx when the caller threads one through, otherwise the root handle.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

func notFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
