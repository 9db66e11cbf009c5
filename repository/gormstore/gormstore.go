// Package gormstore implements core.Repository on top of GORM, giving the
// runtime durable session, context and checkpoint mirrors in any database
// GORM can open (SQLite for embedded use, MySQL and friends for servers).
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hupe1980/collabhub/core"
)

// record is the single-table storage row. Kind and RecordID form the
// composite key so one table serves every record kind. The update time is
// caller-supplied, so GORM's tracking convention for the column is disabled.
type record struct {
	Kind      string    `gorm:"primaryKey;size:32"`
	RecordID  string    `gorm:"primaryKey;size:64;column:record_id"`
	Data      []byte    `gorm:"type:blob"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime:false"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (record) TableName() string { return "runtime_records" }

// Store is a core.Repository backed by a GORM connection.
type Store struct {
	db *gorm.DB
}

// New wraps an existing GORM connection and migrates the record table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens a connection for the given dialector with quiet logging and
// returns a migrated store.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	return New(db)
}

// Save upserts a record by (kind, id).
func (s *Store) Save(ctx context.Context, rec core.Record) error {
	if rec.Kind == "" || rec.ID == "" {
		return fmt.Errorf("record kind and id are required: %w", core.ErrValidation)
	}
	row := record{
		Kind:      string(rec.Kind),
		RecordID:  rec.ID,
		Data:      rec.Data,
		UpdatedAt: rec.UpdatedAt,
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: save %s/%s: %w", rec.Kind, rec.ID, err)
	}
	return nil
}

// Load fetches one record or core.ErrNotFound.
func (s *Store) Load(ctx context.Context, kind core.RecordKind, id string) (*core.Record, error) {
	var row record
	err := s.db.WithContext(ctx).
		Where("kind = ? AND record_id = ?", string(kind), id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("record %s/%s: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: load %s/%s: %w", kind, id, err)
	}
	return rowToRecord(row), nil
}

// Query returns records matching the filter, most recently updated first.
func (s *Store) Query(ctx context.Context, f core.RecordFilter) ([]core.Record, error) {
	q := s.db.WithContext(ctx).Model(&record{})
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if len(f.IDs) > 0 {
		q = q.Where("record_id IN ?", f.IDs)
	}
	if !f.UpdatedAfter.IsZero() {
		q = q.Where("updated_at > ?", f.UpdatedAfter)
	}
	q = q.Order("updated_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: query: %w", err)
	}
	out := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, *rowToRecord(row))
	}
	return out, nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, kind core.RecordKind, id string) error {
	err := s.db.WithContext(ctx).
		Where("kind = ? AND record_id = ?", string(kind), id).
		Delete(&record{}).Error
	if err != nil {
		return fmt.Errorf("gormstore: delete %s/%s: %w", kind, id, err)
	}
	return nil
}

func rowToRecord(row record) *core.Record {
	return &core.Record{
		Kind:      core.RecordKind(row.Kind),
		ID:        row.RecordID,
		Data:      row.Data,
		UpdatedAt: row.UpdatedAt,
	}
}
