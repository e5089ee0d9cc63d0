package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const systemColumns = `s.id, s.name, s.url, s.icon, s.description, s.order_num, s.status,
		       s.health_status, s.response_time, s.last_check_at, s.created_at, s.updated_at`

// foreignKeyViolation is the PostgreSQL SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// ErrUnknownSystem is returned when a grant names a system that does not exist.
var ErrUnknownSystem = fmt.Errorf("%w: unknown system id", errors.ErrValidation)

// PostgresSystemStore implements SystemStore on PostgreSQL.
type PostgresSystemStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *logging.LoggerV2
}

// NewPostgresSystemStore creates a new PostgreSQL-backed systems registry.
func NewPostgresSystemStore(db *sql.DB) *PostgresSystemStore {
	return &PostgresSystemStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.NewLoggerV2("postgres-system-store"),
	}
}

func scanSystem(row rowScanner) (*models.System, error) {
	system := &models.System{}
	var responseTime sql.NullInt64
	var lastCheckAt sql.NullTime

	err := row.Scan(
		&system.ID,
		&system.Name,
		&system.URL,
		&system.Icon,
		&system.Description,
		&system.OrderNum,
		&system.Status,
		&system.HealthStatus,
		&responseTime,
		&lastCheckAt,
		&system.CreatedAt,
		&system.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if responseTime.Valid {
		ms := responseTime.Int64
		system.ResponseTimeMs = &ms
	}
	if lastCheckAt.Valid {
		t := lastCheckAt.Time
		system.LastCheckAt = &t
	}
	return system, nil
}

func (s *PostgresSystemStore) query(ctx context.Context, query string, args ...interface{}) ([]*models.System, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	systems := []*models.System{}
	for rows.Next() {
		system, err := scanSystem(rows)
		if err != nil {
			return nil, err
		}
		systems = append(systems, system)
	}
	return systems, rows.Err()
}

// List returns every registered system in display order.
func (s *PostgresSystemStore) List(ctx context.Context) ([]*models.System, error) {
	return s.query(ctx, `SELECT `+systemColumns+` FROM systems s ORDER BY s.order_num ASC, s.id ASC`)
}

// ListActive returns the systems the health checker polls.
func (s *PostgresSystemStore) ListActive(ctx context.Context) ([]*models.System, error) {
	return s.query(ctx, `SELECT `+systemColumns+` FROM systems s WHERE s.status = $1 ORDER BY s.order_num ASC, s.id ASC`,
		models.SystemActive)
}

// ListForUser returns the systems granted to userID in display order.
func (s *PostgresSystemStore) ListForUser(ctx context.Context, userID int64) ([]*models.System, error) {
	query := `SELECT ` + systemColumns + `
		FROM systems s
		JOIN user_system_access usa ON usa.system_id = s.id
		WHERE usa.user_id = $1
		ORDER BY s.order_num ASC, s.id ASC`
	return s.query(ctx, query, userID)
}

// GetByID retrieves a system by ID.
func (s *PostgresSystemStore) GetByID(ctx context.Context, id int64) (*models.System, error) {
	query := `SELECT ` + systemColumns + ` FROM systems s WHERE s.id = $1`

	system, err := scanSystem(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		s.logger.Error("failed to fetch system by ID", logging.Fields{
			"system_id": id,
			"error":     err.Error(),
		})
		return nil, err
	}
	return system, nil
}

// Create inserts a system. Health starts as unknown.
func (s *PostgresSystemStore) Create(ctx context.Context, req *models.SystemRequest) (*models.System, error) {
	s.logger.Info("creating system", logging.Fields{"name": req.Name})

	now := s.now()
	query := `
		INSERT INTO systems (name, url, icon, description, order_num, status, health_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		req.Name,
		req.URL,
		req.Icon,
		req.Description,
		req.OrderNum,
		req.Status,
		models.HealthUnknown,
		now,
		now,
	).Scan(&id)
	if err != nil {
		s.logger.Error("failed to create system", logging.Fields{
			"name":  req.Name,
			"error": err.Error(),
		})
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// Update replaces the editable fields of a system.
func (s *PostgresSystemStore) Update(ctx context.Context, id int64, req *models.SystemRequest) (*models.System, error) {
	s.logger.Info("updating system", logging.Fields{"system_id": id})

	query := `
		UPDATE systems
		SET name = $1, url = $2, icon = $3, description = $4, order_num = $5, status = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		req.Name,
		req.URL,
		req.Icon,
		req.Description,
		req.OrderNum,
		req.Status,
		s.now(),
		id,
	)
	if err != nil {
		s.logger.Error("failed to update system", logging.Fields{
			"system_id": id,
			"error":     err.Error(),
		})
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errors.ErrNotFound
	}

	return s.GetByID(ctx, id)
}

// Delete removes a system. Its grants go with it.
func (s *PostgresSystemStore) Delete(ctx context.Context, id int64) error {
	s.logger.Info("deleting system", logging.Fields{"system_id": id})

	result, err := s.db.ExecContext(ctx, `DELETE FROM systems WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("failed to delete system", logging.Fields{
			"system_id": id,
			"error":     err.Error(),
		})
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// UpdateHealth stores the outcome of a health check. A system deleted while
// it was being checked is ignored.
func (s *PostgresSystemStore) UpdateHealth(ctx context.Context, result *models.HealthResult) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE systems SET health_status = $1, response_time = $2, last_check_at = $3 WHERE id = $4`,
		result.HealthStatus, result.ResponseTimeMs, result.CheckedAt.UTC(), result.SystemID)
	if err != nil {
		s.logger.Error("failed to update system health", logging.Fields{
			"system_id": result.SystemID,
			"error":     err.Error(),
		})
	}
	return err
}

// Grant gives userID access to every system in systemIDs in one transaction.
// Existing grants are left as they are.
func (s *PostgresSystemStore) Grant(ctx context.Context, userID int64, systemIDs []int64, grantedBy int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO user_system_access (user_id, system_id, granted_at, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, system_id) DO NOTHING
	`
	now := s.now()
	for _, systemID := range systemIDs {
		if _, err := tx.ExecContext(ctx, query, userID, systemID, now, grantedBy); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %d", ErrUnknownSystem, systemID)
			}
			s.logger.Error("failed to grant system access", logging.Fields{
				"user_id":   userID,
				"system_id": systemID,
				"error":     err.Error(),
			})
			return err
		}
	}

	return tx.Commit()
}

// Revoke removes one grant.
func (s *PostgresSystemStore) Revoke(ctx context.Context, userID, systemID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_system_access WHERE user_id = $1 AND system_id = $2`, userID, systemID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ListGrants returns the grants of userID in display order.
func (s *PostgresSystemStore) ListGrants(ctx context.Context, userID int64) ([]*models.SystemGrant, error) {
	query := `
		SELECT s.id, s.name, usa.granted_at, COALESCE(u.username, '')
		FROM user_system_access usa
		JOIN systems s ON usa.system_id = s.id
		LEFT JOIN users u ON usa.granted_by = u.id
		WHERE usa.user_id = $1
		ORDER BY s.order_num ASC, s.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []*models.SystemGrant{}
	for rows.Next() {
		grant := &models.SystemGrant{}
		if err := rows.Scan(&grant.SystemID, &grant.Name, &grant.GrantedAt, &grant.GrantedByName); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// HasAccess reports whether userID holds a grant for systemID.
func (s *PostgresSystemStore) HasAccess(ctx context.Context, userID, systemID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_system_access WHERE user_id = $1 AND system_id = $2)`,
		userID, systemID).Scan(&ok)
	return ok, err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == foreignKeyViolation
	}
	return false
}
