package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/config"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/database"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/telemetry"
)

const migrationsTable = "schema_migrations"

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, status, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		dir        = flag.String("dir", "internal/infrastructure/database/migrations", "Migrations directory (for create action)")
		steps      = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *action == "create" {
		if *name == "" {
			logger.Fatal("migration name is required for create action")
		}
		up, down, err := Create(*dir, *name)
		if err != nil {
			logger.Fatal("failed to create migration", zap.Error(err))
		}
		logger.Info("created migration", zap.String("up", up), zap.String("down", down))
		return
	}

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator, err := NewMigrator(db, logger)
	if err != nil {
		logger.Fatal("failed to create migrator", zap.Error(err))
	}

	switch *action {
	case "up":
		err = migrator.Up(*steps)
	case "down":
		err = migrator.Down(*steps)
	case "status":
		var status Status
		status, err = migrator.Status()
		if err == nil {
			fmt.Println(status)
		}
	default:
		logger.Error("unknown action", zap.String("action", *action))
		os.Exit(2)
	}

	if err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
}

// Migrator applies the embedded schema migrations over a lib/pq connection.
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// NewMigrator binds the embedded migration source to db.
func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	src, err := database.MigrationSource()
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("creating postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// Up applies steps pending migrations, or all of them when steps is 0.
func (m *Migrator) Up(steps int) error {
	var err error
	if steps > 0 {
		err = m.m.Steps(steps)
	} else {
		err = m.m.Up()
	}
	return m.finish("up", err)
}

// Down rolls back steps migrations, or all of them when steps is 0.
func (m *Migrator) Down(steps int) error {
	var err error
	if steps > 0 {
		err = m.m.Steps(-steps)
	} else {
		err = m.m.Down()
	}
	return m.finish("down", err)
}

func (m *Migrator) finish(action string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no pending migrations", zap.String("action", action))
		return nil
	}
	if err != nil {
		return err
	}
	status, err := m.Status()
	if err != nil {
		return err
	}
	m.logger.Info("migrations completed",
		zap.String("action", action),
		zap.Uint("version", status.Version),
		zap.Bool("dirty", status.Dirty))
	return nil
}

// Status is the schema version recorded in the migrations table.
type Status struct {
	Version uint
	Dirty   bool
	Applied bool
}

func (s Status) String() string {
	if !s.Applied {
		return "no migrations applied"
	}
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty)", s.Version)
	}
	return fmt.Sprintf("version %d", s.Version)
}

// Status reports the current schema version.
func (m *Migrator) Status() (Status, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Version: version, Dirty: dirty, Applied: true}, nil
}

var migrationFile = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

// Create writes an empty up/down pair numbered after the highest migration
// already in dir.
func Create(dir, name string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migrations directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to list migrations: %w", err)
	}

	var versions []int
	for _, e := range entries {
		if match := migrationFile.FindStringSubmatch(e.Name()); match != nil {
			v, _ := strconv.Atoi(match[1])
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	base := fmt.Sprintf("%06d_%s", next, name)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	for _, path := range []string{up, down} {
		content := fmt.Sprintf("-- Migration: %s\n\n", name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", "", fmt.Errorf("failed to create migration file: %w", err)
		}
	}
	return up, down, nil
}
