// Package sqlregistry reads node assignments from a MySQL table.
//
// The table is created with Schema. Each row assigns one data center and
// worker pair to a (service, instance); the unique key on the pair keeps two
// instances from sharing ids.
package sqlregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Lzww0608/gflake"
	"github.com/Lzww0608/gflake/registry"
)

// Schema creates the assignment table
const Schema = `CREATE TABLE IF NOT EXISTS gflake_nodes (
  service     VARCHAR(128) NOT NULL,
  instance    VARCHAR(128) NOT NULL,
  data_center BIGINT       NOT NULL,
  worker      BIGINT       NOT NULL,
  updated_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  PRIMARY KEY (service, instance),
  UNIQUE KEY uk_node (data_center, worker)
)`

const (
	selectAssignment = "SELECT data_center, worker FROM gflake_nodes WHERE service = ? AND instance = ?"
	countConflicts   = "SELECT COUNT(*) FROM gflake_nodes WHERE data_center = ? AND worker = ? AND (service <> ? OR instance <> ?) FOR UPDATE"
	upsertAssignment = "INSERT INTO gflake_nodes (service, instance, data_center, worker) VALUES (?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE data_center = VALUES(data_center), worker = VALUES(worker)"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// ErrConflict indicates that the data center and worker pair is assigned to
// another instance
var ErrConflict = errors.New("sqlregistry: node ids already assigned")

// Store reads and provisions assignments. Lookups are cached per instance.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[instanceKey]registry.Assignment
}

type instanceKey struct {
	service, instance string
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to MySQL with dsn, for example
// "user:pass@tcp(127.0.0.1:3306)/ids".
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlregistry: parse dsn: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlregistry: create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return New(db, opts...), nil
}

// New returns a Store using db
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cache:  make(map[instanceKey]registry.Assignment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the assignment of service/instance
func (s *Store) Lookup(ctx context.Context, service, instance string) (registry.Assignment, error) {
	key := instanceKey{service, instance}

	s.mu.RLock()
	a, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have loaded it while we waited
	if a, ok := s.cache[key]; ok {
		return a, nil
	}

	err := s.db.QueryRowContext(ctx, selectAssignment, service, instance).Scan(&a.DataCenter, &a.Worker)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Assignment{}, fmt.Errorf("%w: %s/%s", registry.ErrNotAssigned, service, instance)
	}
	if err != nil {
		return registry.Assignment{}, fmt.Errorf("sqlregistry: lookup %s/%s: %w", service, instance, err)
	}
	if err := a.Validate(); err != nil {
		return registry.Assignment{}, err
	}

	s.cache[key] = a
	s.logger.InfoContext(ctx, "loaded node assignment",
		"service", service, "instance", instance,
		"data_center", a.DataCenter, "worker", a.Worker)
	return a, nil
}

// Assign stores the assignment of service/instance, replacing any previous
// one. It fails with ErrConflict when another instance holds the same ids.
func (s *Store) Assign(ctx context.Context, service, instance string, a registry.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlregistry: begin: %w", err)
	}
	defer tx.Rollback()

	var conflicts int
	err = tx.QueryRowContext(ctx, countConflicts, a.DataCenter, a.Worker, service, instance).Scan(&conflicts)
	if err != nil {
		return fmt.Errorf("sqlregistry: check conflicts: %w", err)
	}
	if conflicts > 0 {
		return fmt.Errorf("%w: data center %d worker %d", ErrConflict, a.DataCenter, a.Worker)
	}

	if _, err := tx.ExecContext(ctx, upsertAssignment, service, instance, a.DataCenter, a.Worker); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("%w: data center %d worker %d", ErrConflict, a.DataCenter, a.Worker)
		}
		return fmt.Errorf("sqlregistry: assign: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlregistry: commit: %w", err)
	}

	s.mu.Lock()
	s.cache[instanceKey{service, instance}] = a
	s.mu.Unlock()
	return nil
}

// Identity looks up the assignment and builds a node identity for layout
func (s *Store) Identity(ctx context.Context, layout gflake.BitLayout, service, instance string, policy gflake.OverflowPolicy) (gflake.NodeIdentity, error) {
	return registry.Identity(ctx, s, layout, service, instance, policy)
}
