// Package history persists report snapshots into SQLite or PostgreSQL so
// results can be compared across runs.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/hwci/pkg/config"
	"github.com/ethpandaops/hwci/pkg/report"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Store provides persistence for run history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// RecordSnapshot upserts the run, its configurations and their steps.
	RecordSnapshot(ctx context.Context, snap *report.Snapshot) error

	ListRuns(ctx context.Context, limit int) ([]Run, error)
	GetRun(ctx context.Context, runID string) (*Run, []ConfigResult, []StepResult, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.HistoryConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.HistoryConfig) Store {
	return &store{
		log: log.WithField("component", "history"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&ConfigResult{},
		&StepResult{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) RecordSnapshot(ctx context.Context, snap *report.Snapshot) error {
	hostname := ""
	if snap.System != nil {
		hostname = snap.System.Hostname
	}

	// Assign takes maps so zero values such as SUCCESS (code 0) overwrite.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run := &Run{RunID: snap.RunID}

		if err := tx.
			Where("run_id = ?", snap.RunID).
			Assign(map[string]any{
				"start_time":     snap.StartTime,
				"configs_file":   snap.ConfigsFile,
				"hostname":       hostname,
				"total":          snap.Summary.Total,
				"executed":       snap.Summary.Executed,
				"passed":         snap.Summary.Passed,
				"failed":         snap.Summary.Failed,
				"total_duration": snap.Summary.TotalDuration,
			}).
			FirstOrCreate(run).Error; err != nil {
			return fmt.Errorf("upserting run: %w", err)
		}

		for _, row := range snap.Rows() {
			cr := &ConfigResult{RunID: snap.RunID, Config: row.Name}

			if err := tx.
				Where("run_id = ? AND config = ?", snap.RunID, row.Name).
				Assign(map[string]any{
					"target":     row.Entry.Target,
					"started_at": row.Entry.Time,
					"duration":   row.Entry.Duration,
				}).
				FirstOrCreate(cr).Error; err != nil {
				return fmt.Errorf("upserting configuration %s: %w", row.Name, err)
			}

			for _, step := range snap.Steps {
				status := row.Entry.Steps[step]
				sr := &StepResult{RunID: snap.RunID, Config: row.Name, Step: step}

				if err := tx.
					Where("run_id = ? AND config = ? AND step = ?", snap.RunID, row.Name, step).
					Assign(map[string]any{
						"status":   status.String(),
						"code":     int(status),
						"log_path": row.Entry.Logs[step],
					}).
					FirstOrCreate(sr).Error; err != nil {
					return fmt.Errorf("upserting step %s/%s: %w", row.Name, step, err)
				}
			}
		}

		return nil
	})
}

func (s *store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run

	q := s.db.WithContext(ctx).Order("start_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

func (s *store) GetRun(ctx context.Context, runID string) (*Run, []ConfigResult, []StepResult, error) {
	var run Run

	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrNotFound
		}

		return nil, nil, nil, fmt.Errorf("getting run: %w", err)
	}

	var configs []ConfigResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&configs).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("listing configurations: %w", err)
	}

	var steps []StepResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&steps).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("listing steps: %w", err)
	}

	return &run, configs, steps, nil
}

// Sink records every published snapshot.
type Sink struct {
	store Store
}

var _ report.Sink = (*Sink)(nil)

// NewSink wraps a started store as a report sink.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Name implements report.Sink.
func (s *Sink) Name() string { return "history" }

// Write implements report.Sink. The write is detached from cancellation so
// the flush following an interrupt still lands.
func (s *Sink) Write(ctx context.Context, snap *report.Snapshot) error {
	return s.store.RecordSnapshot(context.WithoutCancel(ctx), snap)
}
