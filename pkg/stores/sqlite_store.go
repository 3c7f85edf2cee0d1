package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/awslabs/aws-codeseeder/pkg/seeder"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordDeployment inserts or refreshes the deployment record for a seedkit
// environment.
func (s *SQLiteStore) RecordDeployment(ctx context.Context, env *seeder.EnvironmentRef) error {
	if env == nil {
		return fmt.Errorf("environment is required")
	}

	outputs, err := json.Marshal(env.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode stack outputs: %w", err)
	}

	query := `
		INSERT INTO deployments (seedkit, region, stack_name, outputs, deployed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(seedkit, region) DO UPDATE SET
			stack_name = excluded.stack_name,
			outputs = excluded.outputs,
			deployed_at = excluded.deployed_at,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		env.Deployment.Name,
		env.Deployment.Region,
		env.StackName,
		string(outputs),
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}

	return nil
}

// GetDeployment retrieves the deployment record for a seedkit in a region.
func (s *SQLiteStore) GetDeployment(ctx context.Context, seedkit, region string) (*DeploymentRecord, error) {
	query := `
		SELECT seedkit, region, stack_name, outputs, deployed_at, created_at, updated_at
		FROM deployments
		WHERE seedkit = ? AND region = ?
	`

	rec := &DeploymentRecord{}
	var outputs string
	err := s.db.QueryRowContext(ctx, query, seedkit, region).Scan(
		&rec.Seedkit,
		&rec.Region,
		&rec.StackName,
		&outputs,
		&rec.DeployedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found: %s/%s", seedkit, region)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode stack outputs: %w", err)
	}

	return rec, nil
}

// ListDeployments lists deployment records with pagination
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*DeploymentRecord, error) {
	query := `
		SELECT seedkit, region, stack_name, outputs, deployed_at, created_at, updated_at
		FROM deployments
		ORDER BY deployed_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	records := []*DeploymentRecord{}
	for rows.Next() {
		rec := &DeploymentRecord{}
		var outputs string
		err := rows.Scan(
			&rec.Seedkit,
			&rec.Region,
			&rec.StackName,
			&outputs,
			&rec.DeployedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("failed to decode stack outputs: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return records, nil
}

// DeleteDeployment removes the deployment record for a destroyed seedkit.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, seedkit, region string) error {
	query := `DELETE FROM deployments WHERE seedkit = ? AND region = ?`

	result, err := s.db.ExecContext(ctx, query, seedkit, region)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deployment not found: %s/%s", seedkit, region)
	}

	return nil
}

// RecordJob inserts a job record, or updates the status of an existing one.
// Terminal statuses also stamp the completion time.
func (s *SQLiteStore) RecordJob(ctx context.Context, job *seeder.Job, status seeder.JobStatus) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if err := status.Validate(); err != nil {
		return err
	}

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `
		INSERT INTO jobs (id, seedkit, execution_id, project_name, bundle_location, status, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Seedkit,
		job.ExecutionID,
		job.ProjectName,
		job.BundleLocation,
		status,
		job.StartTime.UTC(),
		completedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}

	return nil
}

// GetJob retrieves a job record by build id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	query := `
		SELECT id, seedkit, execution_id, project_name, bundle_location, status, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`

	rec := &JobRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Seedkit,
		&rec.ExecutionID,
		&rec.ProjectName,
		&rec.BundleLocation,
		&rec.Status,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return rec, nil
}

// ListJobs lists job records, optionally filtered by seedkit, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, seedkit *string, limit, offset int) ([]*JobRecord, error) {
	query := `
		SELECT id, seedkit, execution_id, project_name, bundle_location, status, started_at, completed_at, created_at, updated_at
		FROM jobs
		WHERE (? IS NULL OR seedkit = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, seedkit, seedkit, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	records := []*JobRecord{}
	for rows.Next() {
		rec := &JobRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Seedkit,
			&rec.ExecutionID,
			&rec.ProjectName,
			&rec.BundleLocation,
			&rec.Status,
			&rec.StartedAt,
			&rec.CompletedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return records, nil
}

// PruneJobs deletes terminal jobs that started before the cutoff.
func (s *SQLiteStore) PruneJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE completed_at IS NOT NULL AND started_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
