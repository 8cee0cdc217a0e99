// Package sqlite provides a checkpoint store on an embedded SQL database.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type sessionRecord struct {
	Key       string `gorm:"column:session_key;primaryKey;size:128"`
	StepCount int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRecord) TableName() string { return "relay_sessions" }

type messageRecord struct {
	ID           uint   `gorm:"primaryKey"`
	SessionKey   string `gorm:"size:128;not null;uniqueIndex:idx_session_seq"`
	Seq          int    `gorm:"not null;uniqueIndex:idx_session_seq"`
	Role         string `gorm:"size:16;not null"`
	Producer     string `gorm:"size:128"`
	Content      string `gorm:"type:text"`
	PendingCalls string `gorm:"type:text"`
	RequestID    string `gorm:"size:64;index"`
	Fault        string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (messageRecord) TableName() string { return "relay_messages" }

// Store implements ports.CheckpointStore on SQLite through GORM.
// One row per message keeps the log append-only at the storage level.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	// SQLite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access checkpoint database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts the messages not stored yet and upserts the session row, in one transaction.
func (s *Store) Save(ctx context.Context, key string, state *domain.SessionState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored int64
		if err := tx.Model(&messageRecord{}).Where("session_key = ?", key).Count(&stored).Error; err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}
		if err := state.CheckBase(int(stored)); err != nil {
			return err
		}

		rec := sessionRecord{
			Key:       key,
			StepCount: state.StepCount,
			CreatedAt: state.CreatedAt,
			UpdatedAt: state.UpdatedAt,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"step_count", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		tail := state.Messages[stored:]
		if len(tail) == 0 {
			return nil
		}
		rows := make([]messageRecord, len(tail))
		for i, m := range tail {
			row, err := toRecord(key, int(stored)+i, m)
			if err != nil {
				return err
			}
			rows[i] = row
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to append messages: %w", err)
		}
		return nil
	})
}

// Load retrieves the session and its messages in log order.
func (s *Store) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	db := s.db.WithContext(ctx)

	var rec sessionRecord
	if err := db.First(&rec, "session_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var rows []messageRecord
	if err := db.Where("session_key = ?", key).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	state := &domain.SessionState{
		Key:       rec.Key,
		StepCount: rec.StepCount,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Messages:  make([]domain.Message, 0, len(rows)),
		Base:      len(rows),
	}
	for _, row := range rows {
		m, err := fromRecord(row)
		if err != nil {
			return nil, err
		}
		state.Messages = append(state.Messages, m)
	}
	return state, nil
}

// Delete removes the session and its messages.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_key = ?", key).Delete(&messageRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("session_key = ?", key).Delete(&sessionRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// List returns all session keys, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys := []string{}
	if err := s.db.WithContext(ctx).Model(&sessionRecord{}).Order("session_key").Pluck("session_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return keys, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(key string, seq int, m domain.Message) (messageRecord, error) {
	row := messageRecord{
		SessionKey: key,
		Seq:        seq,
		Role:       string(m.Role),
		Producer:   m.Producer,
		Content:    m.Content,
		RequestID:  m.RequestID,
		CreatedAt:  m.CreatedAt,
	}
	if len(m.PendingCalls) > 0 {
		data, err := json.Marshal(m.PendingCalls)
		if err != nil {
			return row, fmt.Errorf("failed to marshal pending calls: %w", err)
		}
		row.PendingCalls = string(data)
	}
	if m.Fault != nil {
		data, err := json.Marshal(m.Fault)
		if err != nil {
			return row, fmt.Errorf("failed to marshal fault: %w", err)
		}
		row.Fault = string(data)
	}
	return row, nil
}

func fromRecord(row messageRecord) (domain.Message, error) {
	m := domain.Message{
		Role:      domain.Role(row.Role),
		Producer:  row.Producer,
		Content:   row.Content,
		RequestID: row.RequestID,
		CreatedAt: row.CreatedAt,
	}
	if row.PendingCalls != "" {
		if err := json.Unmarshal([]byte(row.PendingCalls), &m.PendingCalls); err != nil {
			return m, fmt.Errorf("failed to unmarshal pending calls of message %d: %w", row.Seq, err)
		}
	}
	if row.Fault != "" {
		m.Fault = &domain.Fault{}
		if err := json.Unmarshal([]byte(row.Fault), m.Fault); err != nil {
			return m, fmt.Errorf("failed to unmarshal fault of message %d: %w", row.Seq, err)
		}
	}
	return m, nil
}
