package migrations

import (
	"context"
	"database/sql"

	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
)

// Migration represents a database migration.
type Migration struct {
	ID       int
	Name     string
	SQL      string
	Rollback string
}

// Migrator handles database migrations.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *logging.LoggerV2
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations,
		logger:     logging.NewLoggerV2("migrator"),
	}
}

// Run executes all pending migrations in ID order, each in its own
// transaction. It returns the number applied.
func (m *Migrator) Run(ctx context.Context) (int, error) {
	if err := m.createMigrationsTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range m.migrations {
		if applied[migration.ID] {
			continue
		}

		m.logger.Info("applying migration", logging.Fields{
			"id":   migration.ID,
			"name": migration.Name,
		})

		if err := m.applyMigration(ctx, migration); err != nil {
			return count, err
		}
		count++
	}

	m.logger.Info("migrations completed", logging.Fields{"applied": count})
	return count, nil
}

// Rollback reverts the most recently applied migration, if any.
func (m *Migrator) Rollback(ctx context.Context) error {
	var id int
	err := m.db.QueryRowContext(ctx, `SELECT id FROM schema_migrations ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.ID != id {
			continue
		}

		m.logger.Warn("rolling back migration", logging.Fields{
			"id":   migration.ID,
			"name": migration.Name,
		})

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, migration.Rollback); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE id = $1`, id); err != nil {
			return err
		}
		return tx.Commit()
	}
	return nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		logging.Errorf("migration %d failed: %v", migration.ID, err)
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, name) VALUES ($1, $2)`,
		migration.ID, migration.Name); err != nil {
		return err
	}

	return tx.Commit()
}

var allMigrations = []Migration{
	{
		ID:   1,
		Name: "create_users_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username VARCHAR(50) UNIQUE NOT NULL,
				email VARCHAR(255) NOT NULL DEFAULT '',
				full_name VARCHAR(100) NOT NULL DEFAULT '',
				password_hash VARCHAR(255) NOT NULL,
				role VARCHAR(20) NOT NULL DEFAULT 'user'
					CHECK (role IN ('admin', 'auditor', 'user')),
				status VARCHAR(20) NOT NULL DEFAULT 'active'
					CHECK (status IN ('active', 'disabled')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				last_login_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
			CREATE INDEX IF NOT EXISTS idx_users_status ON users(status);
		`,
		Rollback: `DROP TABLE IF EXISTS users;`,
	},
	{
		ID:   2,
		Name: "create_audit_logs_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS audit_logs (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
				username VARCHAR(50) NOT NULL DEFAULT '',
				action VARCHAR(50) NOT NULL,
				resource_type VARCHAR(50) NOT NULL,
				resource_id VARCHAR(50) NOT NULL DEFAULT '',
				details JSONB,
				ip_address VARCHAR(64) NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
		`,
		Rollback: `DROP TABLE IF EXISTS audit_logs;`,
	},	{
		ID:   3,
		Name: "create_systems_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS systems (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(100) NOT NULL,
				url TEXT NOT NULL,
				icon VARCHAR(50) NOT NULL DEFAULT 'Monitor',
				description TEXT NOT NULL DEFAULT '',
				order_num INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL DEFAULT 'active'
					CHECK (status IN ('active', 'inactive')),
				health_status VARCHAR(20) NOT NULL DEFAULT 'unknown'
					CHECK (health_status IN ('unknown', 'online', 'offline')),
				response_time BIGINT,
				last_check_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_systems_order_num ON systems(order_num);
			CREATE INDEX IF NOT EXISTS idx_systems_status ON systems(status);
		`,
		Rollback: `DROP TABLE IF EXISTS systems;`,
	},
	{
		ID:   4,
		Name: "create_user_system_access_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS user_system_access (
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				system_id BIGINT NOT NULL REFERENCES systems(id) ON DELETE CASCADE,
				granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
				PRIMARY KEY (user_id, system_id)
			);
			CREATE INDEX IF NOT EXISTS idx_user_system_access_system_id ON user_system_access(system_id);
		`,
		Rollback: `DROP TABLE IF EXISTS user_system_access;`,
	},
}
