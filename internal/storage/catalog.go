// Package storage persists closed events: raw sample windows as CSV under
// a per-event directory, and event metadata in a SQLite catalog.
package storage

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/twinspect/twinspect/internal/detector"
)

var (
	ErrCatalogNotOpen = errors.New("event catalog is not open")
	ErrEventNotFound  = errors.New("event not found in catalog")
)

// EventRecord is one catalog row per detected event. Reports and telemetry
// consumers query this table for event history and save status.
type EventRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	TriggerTime   time.Time
	DetriggerTime time.Time
	DurationMs    int64
	SampleCount   int
	PeakAccel     float64
	PeakDisp      float64
	Status        string
	FailureStage  string // "persistence" or "analysis" when Status is failed
	DataPath      string
	CreatedAt     time.Time
}

// Catalog is the SQLite-backed event index.
type Catalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenCatalog opens (or creates) the catalog database and migrates its
// schema. Pass ":memory:" for an ephemeral catalog in tests.
func OpenCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event catalog %q: %w", path, err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate event catalog: %w", err)
	}
	logger.Info("Event catalog opened", zap.String("path", path))
	return &Catalog{db: db, logger: logger}, nil
}

// Insert records a newly persisted event.
func (c *Catalog) Insert(rec *EventRecord) error {
	if c.db == nil {
		return ErrCatalogNotOpen
	}
	if err := c.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to insert event %d: %w", rec.ID, err)
	}
	return nil
}

// SetEventStatus transitions an event's catalog row to its terminal
// Saved/Failed status.
func (c *Catalog) SetEventStatus(id uint64, status detector.EventStatus) error {
	if c.db == nil {
		return ErrCatalogNotOpen
	}
	res := c.db.Model(&EventRecord{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update status of event %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}
	return nil
}

// RecordFailure writes a Failed row for an event. The row may not exist
// yet when persistence itself failed before inserting it, so this upserts
// the full record instead of transitioning one; an existing row keeps its
// data path.
func (c *Catalog) RecordFailure(ev *detector.Event, stage string) error {
	if c.db == nil {
		return ErrCatalogNotOpen
	}
	peakAccel, peakDisp := peaks(ev.Samples)
	rec := &EventRecord{
		ID:            ev.ID,
		TriggerTime:   ev.TriggerTime,
		DetriggerTime: ev.DetriggerTime,
		DurationMs:    ev.Duration().Milliseconds(),
		SampleCount:   len(ev.Samples),
		PeakAccel:     peakAccel,
		PeakDisp:      peakDisp,
		Status:        string(detector.StatusFailed),
		FailureStage:  stage,
	}
	err := c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "failure_stage"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to record failure of event %d: %w", ev.ID, err)
	}
	return nil
}

// Get returns a single catalog row.
func (c *Catalog) Get(id uint64) (EventRecord, error) {
	var rec EventRecord
	if c.db == nil {
		return rec, ErrCatalogNotOpen
	}
	err := c.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}
	return rec, err
}

// Recent lists the latest events, newest first.
func (c *Catalog) Recent(limit int) ([]EventRecord, error) {
	if c.db == nil {
		return nil, ErrCatalogNotOpen
	}
	var recs []EventRecord
	err := c.db.Order("trigger_time desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
