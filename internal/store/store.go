// Package store keeps the channel lineup, timers, recordings, EPG and
// setup values in a pure Go SQLite database through GORM.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
)

// Store owns the database and hands out one repository per collaborator.
type Store struct {
	db  *gorm.DB
	log logger.Logger

	channels   *ChannelRepo
	timers     *TimerRepo
	recordings *RecordingRepo
	schedule   *ScheduleRepo
	setup      *SetupRepo
}

// counter is a modification counter bumped after every committed write.
type counter struct{ n atomic.Uint64 }

func (c *counter) bump()         { c.n.Add(1) }
func (c *counter) value() uint64 { return c.n.Load() }

// Open connects to the database described by cfg, migrates the schema and
// loads cfg.SeedFile when set.
func Open(cfg config.StoreConfig, rec config.RecordingsConfig, log logger.Logger) (*Store, error) {
	log = logger.WithComponent(log, "store")

	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	dsn, memory := sqliteDSN(cfg.DSN)
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 newGormLogger(log),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	if memory {
		// every connection of an in-memory database sees its own schema
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(6)
		sqlDB.SetMaxIdleConns(3)
	}

	if err := db.AutoMigrate(
		&channelRow{}, &providerRow{}, &blacklistRow{},
		&timerRow{}, &recordingRow{}, &eventRow{}, &setupRow{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	s := &Store{db: db, log: log}
	s.channels = &ChannelRepo{db: db, log: log}
	s.timers = &TimerRepo{db: db, log: log}
	s.recordings = &RecordingRepo{db: db, log: log, dir: rec.Dir, grace: rec.ActiveGrace}
	s.schedule = &ScheduleRepo{db: db, log: log}
	s.setup = &SetupRepo{db: db}

	if err := s.setup.seedDefaults(); err != nil {
		return nil, err
	}

	if cfg.SeedFile != "" {
		if err := s.SeedFile(cfg.SeedFile); err != nil {
			return nil, err
		}
	}

	log.WithFields(logger.Fields{
		"dsn":    cfg.DSN,
		"memory": memory,
	}).Info("Store opened")
	return s, nil
}

// sqliteDSN appends the connection pragmas to a file DSN.
func sqliteDSN(dsn string) (string, bool) {
	if dsn == "" || strings.Contains(dsn, ":memory:") {
		if dsn == "" {
			dsn = ":memory:"
		}
		return dsn, true
	}
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=busy_timeout(30000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"
	return dsn, false
}

func (s *Store) Channels() *ChannelRepo     { return s.channels }
func (s *Store) Timers() *TimerRepo         { return s.timers }
func (s *Store) Recordings() *RecordingRepo { return s.recordings }
func (s *Store) Schedule() *ScheduleRepo    { return s.schedule }
func (s *Store) Setup() *SetupRepo          { return s.setup }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
