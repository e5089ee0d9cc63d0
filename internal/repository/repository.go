package repository

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

// UserStore defines user data access. Password values in create and update
// requests are already hashed.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, req *models.CreateUserRequest) (*models.User, error)
	Update(ctx context.Context, id int64, req *models.UpdateUserRequest) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter *models.UserListFilter) ([]*models.User, int, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	GetPasswordHash(ctx context.Context, id int64) (string, error)
}

// UserCache is a read-through cache of users keyed by ID. Get returns
// (nil, nil) on a miss.
type UserCache interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	Set(ctx context.Context, user *models.User) error
	Invalidate(ctx context.Context, id int64) error
}

// AuditStore persists the audit trail.
type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLog, int, error)
}

// SystemStore persists the systems registry and the per-user grants.
type SystemStore interface {
	List(ctx context.Context) ([]*models.System, error)
	ListActive(ctx context.Context) ([]*models.System, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.System, error)
	GetByID(ctx context.Context, id int64) (*models.System, error)
	Create(ctx context.Context, req *models.SystemRequest) (*models.System, error)
	Update(ctx context.Context, id int64, req *models.SystemRequest) (*models.System, error)
	Delete(ctx context.Context, id int64) error
	UpdateHealth(ctx context.Context, result *models.HealthResult) error
	Grant(ctx context.Context, userID int64, systemIDs []int64, grantedBy int64) error
	Revoke(ctx context.Context, userID, systemID int64) error
	ListGrants(ctx context.Context, userID int64) ([]*models.SystemGrant, error)
	HasAccess(ctx context.Context, userID, systemID int64) (bool, error)
}

var (
	_ SystemStore = (*PostgresSystemStore)(nil)
	_ UserStore   = (*PostgresUserStore)(nil)
	_ UserStore   = (*CachedUserStore)(nil)
	_ UserCache   = (*RedisUserCache)(nil)
	_ UserCache   = (*NoOpUserCache)(nil)
	_ AuditStore  = (*PostgresAuditStore)(nil)
)
