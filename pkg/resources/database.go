package resources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	// MySQL admin connection driver
	_ "github.com/go-sql-driver/mysql"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// DatabaseSpec describes a relational database to create.
type DatabaseSpec struct {
	CharacterSet string
	Collation    string
}

var validDatabaseName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DatabaseManager recreates service databases through an admin connection.
// EnsurePresent drops any existing database of the same name first, so every
// run starts from a clean schema.
type DatabaseManager struct {
	db      *sql.DB
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewDatabaseManager connects to the database server with an admin DSN.
func NewDatabaseManager(dsn string, logger *telemetry.Logger, metrics *telemetry.Metrics) (*DatabaseManager, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin connection: %w", err)
	}

	return &DatabaseManager{
		db:      db,
		logger:  logger.NewComponentLogger("resources.database"),
		metrics: metrics,
	}, nil
}

// Close closes the admin connection.
func (m *DatabaseManager) Close() error {
	return m.db.Close()
}

// EnsureAbsent drops the database if it exists.
func (m *DatabaseManager) EnsureAbsent(ctx context.Context, key Key) error {
	if err := validateDatabaseKey(key); err != nil {
		return err
	}

	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", key.Name)); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return fmt.Errorf("failed to drop database %q: %w", key.Name, err)
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_absent")
	m.logger.WithResource(key.String()).Debug("Database dropped")
	return nil
}

// EnsurePresent drops any existing database of the same name and creates a
// fresh one with the spec's character set.
func (m *DatabaseManager) EnsurePresent(ctx context.Context, key Key, spec DatabaseSpec) (*Resource, error) {
	if err := m.EnsureAbsent(ctx, key); err != nil {
		return nil, err
	}

	charset := spec.CharacterSet
	if charset == "" {
		charset = "utf8mb4"
	}

	stmt := fmt.Sprintf("CREATE DATABASE `%s` CHARACTER SET %s", key.Name, charset)
	if spec.Collation != "" {
		stmt += " COLLATE " + spec.Collation
	}

	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to create database %q: %w", key.Name, err)
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_present")
	m.logger.WithResource(key.String()).WithField("charset", charset).Info("Database created")

	return &Resource{Key: key, State: StatePresent}, nil
}

func validateDatabaseKey(key Key) error {
	if key.Kind != KindDatabase {
		return fmt.Errorf("expected %s key, got %s", KindDatabase, key.Kind)
	}
	if !validDatabaseName.MatchString(key.Name) {
		return fmt.Errorf("invalid database name %q", key.Name)
	}
	return nil
}
