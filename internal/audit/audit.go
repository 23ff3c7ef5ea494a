// Package audit keeps a persistent trail of every tool call attempted by the
// agent, so evidence can be recomputed after the fact.
package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atinylittleshell/gsh-agent/internal/evidence"
)

// Store is the audit trail database.
type Store struct {
	db          *gorm.DB
	versionPath string
}

type Entry struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`

	RunID     string `gorm:"index"`
	Agent     string
	Tool      string
	CallID    string
	Success   bool
	Timestamp time.Time
}

const (
	auditSchemaVersion = 1
)

// Open opens or creates the audit database at dbFilePath. The schema version
// marker lives next to it.
func Open(dbFilePath string) (*Store, error) {
	dbFileExists := true
	if _, err := os.Stat(dbFilePath); errors.Is(err, os.ErrNotExist) {
		dbFileExists = false
	} else if err != nil {
		return nil, fmt.Errorf("error checking audit db: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening audit db: %w", err)
	}

	s := &Store{
		db:          db,
		versionPath: filepath.Join(filepath.Dir(dbFilePath), "audit_schema_version"),
	}

	if s.needsMigration(dbFileExists) {
		if err := s.migrate(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("error auto-migrating audit schema: %w", err)
	}
	if err := s.writeSchemaVersion(auditSchemaVersion); err != nil {
		return fmt.Errorf("error writing audit schema version: %w", err)
	}
	return nil
}

func (s *Store) needsMigration(dbFileExists bool) bool {
	if !dbFileExists {
		return true
	}

	versionMatches, err := s.schemaVersionMatches()
	if err != nil || !versionMatches {
		return true
	}

	// A version marker without the table means the database was replaced.
	return !s.db.Migrator().HasTable(&Entry{})
}

func (s *Store) writeSchemaVersion(version int) error {
	return os.WriteFile(s.versionPath, []byte(strconv.Itoa(version)), 0644)
}

func (s *Store) schemaVersionMatches() (bool, error) {
	data, err := os.ReadFile(s.versionPath)
	if err != nil {
		return false, err
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, err
	}
	if version != auditSchemaVersion {
		return false, fmt.Errorf("audit schema version mismatch: got %d, want %d", version, auditSchemaVersion)
	}
	return true, nil
}

// Record stores one tool call record of a run.
func (s *Store) Record(ctx context.Context, runID, agent string, rec evidence.ToolCallRecord) error {
	entry := Entry{
		RunID:     runID,
		Agent:     agent,
		Tool:      rec.Tool,
		CallID:    rec.CallID,
		Success:   rec.Success,
		Timestamp: rec.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

// RunRecords returns the records of a run in the order they were stored.
func (s *Store) RunRecords(ctx context.Context, runID string) ([]evidence.ToolCallRecord, error) {
	var entries []Entry
	result := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id asc").Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	records := make([]evidence.ToolCallRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, evidence.ToolCallRecord{
			Tool:      e.Tool,
			Timestamp: e.Timestamp,
			Success:   e.Success,
			CallID:    e.CallID,
		})
	}
	return records, nil
}

// Evidence recomputes a run's evidence from the stored trail.
func (s *Store) Evidence(ctx context.Context, runID string, delegated bool) (evidence.Evidence, error) {
	records, err := s.RunRecords(ctx, runID)
	if err != nil {
		return evidence.Evidence{}, err
	}
	return evidence.Compute(records, delegated), nil
}

// RecentEntries returns up to limit entries, oldest first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	result := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	slices.Reverse(entries)
	return entries, nil
}

// Prune deletes entries created before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
