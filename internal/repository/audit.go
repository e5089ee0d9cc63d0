package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const auditColumns = `id, user_id, username, action, resource_type, resource_id,
		       details, ip_address, user_agent, created_at`

// PostgresAuditStore implements AuditStore on PostgreSQL.
type PostgresAuditStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *logging.LoggerV2
}

// NewPostgresAuditStore creates a new audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.NewLoggerV2("postgres-audit-store"),
	}
}

// Record appends an entry. CreatedAt is filled in when zero.
func (s *PostgresAuditStore) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	var userID sql.NullInt64
	if entry.UserID != nil {
		userID = sql.NullInt64{Int64: *entry.UserID, Valid: true}
	}
	var details interface{}
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}

	query := `
		INSERT INTO audit_logs (user_id, username, action, resource_type, resource_id,
		                        details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		userID,
		entry.Username,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		details,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		s.logger.Error("failed to record audit entry", logging.Fields{
			"action": entry.Action,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

// List returns entries newest first, plus the total count.
func (s *PostgresAuditStore) List(ctx context.Context, filter *models.AuditLogFilter) ([]*models.AuditLog, int, error) {
	var args argList
	where := " FROM audit_logs WHERE 1=1"

	if filter.UserID != nil {
		where += " AND user_id = " + args.add(*filter.UserID)
	}
	if filter.Action != "" {
		where += " AND action = " + args.add(filter.Action)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+where, args.values...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + auditColumns + where +
		" ORDER BY created_at DESC, id DESC LIMIT " + args.add(filter.Limit) +
		" OFFSET " + args.add(filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		entry := &models.AuditLog{}
		var userID sql.NullInt64
		var details []byte

		err := rows.Scan(
			&entry.ID,
			&userID,
			&entry.Username,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&details,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if userID.Valid {
			id := userID.Int64
			entry.UserID = &id
		}
		if len(details) > 0 {
			entry.Details = details
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
