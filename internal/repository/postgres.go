package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const userColumns = `id, username, email, full_name, role, status,
		       created_at, updated_at, last_login_at`

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresUserStore implements UserStore on PostgreSQL.
type PostgresUserStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *logging.LoggerV2
}

// NewPostgresUserStore creates a new PostgreSQL-backed user store.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.NewLoggerV2("postgres-user-store"),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var lastLoginAt sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (s *PostgresUserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		s.logger.Error("failed to fetch user by ID", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
		return nil, err
	}
	return user, nil
}

// GetByUsername retrieves a user by login name.
func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		logging.Errorf("failed to fetch user by username %q: %v", username, err)
		return nil, err
	}
	return user, nil
}

// Create inserts a user and returns the stored row.
func (s *PostgresUserStore) Create(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	s.logger.Info("creating new user", logging.Fields{"username": req.Username})

	now := s.now()
	status := req.Status
	if status == "" {
		status = models.StatusActive
	}

	query := `
		INSERT INTO users (username, email, full_name, password_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		req.Username,
		req.Email,
		req.FullName,
		req.Password,
		req.Role,
		status,
		now,
		now,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.ErrConflict
		}
		s.logger.Error("failed to create user", logging.Fields{
			"username": req.Username,
			"error":    err.Error(),
		})
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// Update applies the non-nil fields of req.
func (s *PostgresUserStore) Update(ctx context.Context, id int64, req *models.UpdateUserRequest) (*models.User, error) {
	s.logger.Info("updating user", logging.Fields{"user_id": id})

	var args argList
	updates := []string{"updated_at = " + args.add(s.now())}

	if req.Email != nil {
		updates = append(updates, "email = "+args.add(*req.Email))
	}
	if req.FullName != nil {
		updates = append(updates, "full_name = "+args.add(*req.FullName))
	}
	if req.Role != nil {
		updates = append(updates, "role = "+args.add(*req.Role))
	}
	if req.Status != nil {
		updates = append(updates, "status = "+args.add(*req.Status))
	}
	if req.Password != nil {
		updates = append(updates, "password_hash = "+args.add(*req.Password))
	}

	query := "UPDATE users SET " + strings.Join(updates, ", ") + " WHERE id = " + args.add(id)

	result, err := s.db.ExecContext(ctx, query, args.values...)
	if err != nil {
		s.logger.Error("failed to update user", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, errors.ErrNotFound
	}

	return s.GetByID(ctx, id)
}

// Delete removes a user. Sessions and audit rows are not touched here.
func (s *PostgresUserStore) Delete(ctx context.Context, id int64) error {
	s.logger.Info("deleting user", logging.Fields{"user_id": id})

	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		s.logger.Error("failed to delete user", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
		return err
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// List retrieves users matching filter, newest first, plus the total count.
func (s *PostgresUserStore) List(ctx context.Context, filter *models.UserListFilter) ([]*models.User, int, error) {
	var args argList
	where := " FROM users WHERE 1=1"

	if filter.Role != nil {
		where += " AND role = " + args.add(*filter.Role)
	}
	if filter.Status != nil {
		where += " AND status = " + args.add(*filter.Status)
	}
	if filter.Search != "" {
		p := args.add("%" + filter.Search + "%")
		where += " AND (username ILIKE " + p + " OR email ILIKE " + p + " OR full_name ILIKE " + p + ")"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+where, args.values...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + userColumns + where +
		" ORDER BY created_at DESC, id DESC LIMIT " + args.add(filter.Limit) +
		" OFFSET " + args.add(filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// UpdateLastLogin records a successful login.
func (s *PostgresUserStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		s.logger.Error("failed to update last login", logging.Fields{
			"user_id": id,
			"error":   err.Error(),
		})
	}
	return err
}

// GetPasswordHash returns the stored bcrypt hash for a user.
func (s *PostgresUserStore) GetPasswordHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", errors.ErrNotFound
	}
	return hash, err
}

// Ping checks database connectivity.
func (s *PostgresUserStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// argList collects positional query arguments and hands out their $n
// placeholders.
type argList struct {
	values []interface{}
}

func (a *argList) add(v interface{}) string {
	a.values = append(a.values, v)
	return "$" + strconv.Itoa(len(a.values))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
