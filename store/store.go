// Package store persists grid snapshots and the audit journal to
// sqlite through GORM. It is the crash-recovery layer: one snapshot row
// per instance, append-only event rows.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gridbot/grid"
	"gridbot/logger"
)

// ==================== Models ====================

// SnapshotModel is the grid_snapshots row, one per instance. The
// generation (levels, bindings, config) is stored as a JSON blob; the
// scalar columns exist for inspection with plain SQL.
type SnapshotModel struct {
	InstanceID string    `json:"instance_id" gorm:"primaryKey"`
	Symbol     string    `json:"symbol" gorm:"index;not null"`
	State      string    `json:"state" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	GenerationVersion int64  `json:"generation_version"`
	GenerationJSON    string `json:"generation_json" gorm:"type:text"`

	NetBaseQuantity   float64 `json:"net_base_quantity"`
	AverageEntryPrice float64 `json:"average_entry_price"`
	RealizedPnL       float64 `json:"realized_pnl"`

	DailyRealizedPnL float64   `json:"daily_realized_pnl"`
	PeakEquity       float64   `json:"peak_equity"`
	Halted           bool      `json:"halted"`
	HaltReason       string    `json:"halt_reason"`
	LastDailyReset   time.Time `json:"last_daily_reset"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalProfit   float64 `json:"total_profit"`
}

func (SnapshotModel) TableName() string {
	return "grid_snapshots"
}

// EventModel is one grid_events journal row.
type EventModel struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	InstanceID string    `json:"instance_id" gorm:"index;not null"`
	Type       string    `json:"type" gorm:"not null"`
	Detail     string    `json:"detail"`
	At         time.Time `json:"at" gorm:"index"`
}

func (EventModel) TableName() string {
	return "grid_events"
}

// ==================== Store ====================

// Store wraps the GORM handle. It satisfies grid.Persister.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SnapshotModel{}, &EventModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Infof("[Store] Database ready at %s", path)
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot upserts the instance's snapshot row.
func (s *Store) SaveSnapshot(snap *grid.Snapshot) error {
	genJSON, err := json.Marshal(snap.Generation)
	if err != nil {
		return fmt.Errorf("failed to encode generation: %w", err)
	}
	model := SnapshotModel{
		InstanceID:        snap.InstanceID,
		Symbol:            snap.Symbol,
		State:             string(snap.State),
		GenerationVersion: snap.Generation.Version,
		GenerationJSON:    string(genJSON),
		NetBaseQuantity:   snap.Position.NetBaseQuantity,
		AverageEntryPrice: snap.Position.AverageEntryPrice,
		RealizedPnL:       snap.Position.RealizedPnL,
		DailyRealizedPnL:  snap.Risk.DailyRealizedPnL,
		PeakEquity:        snap.Risk.PeakEquity,
		Halted:            snap.Risk.Halted,
		HaltReason:        snap.Risk.HaltReason,
		LastDailyReset:    snap.Risk.LastDailyReset,
		TotalTrades:       snap.Performance.TotalTrades,
		WinningTrades:     snap.Performance.WinningTrades,
		TotalProfit:       snap.Performance.TotalProfit,
	}
	return s.db.Save(&model).Error
}

// LoadSnapshot returns the persisted snapshot for an instance, or
// (nil, nil) when none exists.
func (s *Store) LoadSnapshot(instanceID string) (*grid.Snapshot, error) {
	var model SnapshotModel
	err := s.db.First(&model, "instance_id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", instanceID, err)
	}

	var gen grid.Generation
	if model.GenerationJSON != "" {
		if err := json.Unmarshal([]byte(model.GenerationJSON), &gen); err != nil {
			return nil, fmt.Errorf("failed to decode generation for %s: %w", instanceID, err)
		}
	}
	return &grid.Snapshot{
		InstanceID: model.InstanceID,
		Symbol:     model.Symbol,
		State:      grid.State(model.State),
		Generation: &gen,
		Position: grid.Position{
			NetBaseQuantity:   model.NetBaseQuantity,
			AverageEntryPrice: model.AverageEntryPrice,
			RealizedPnL:       model.RealizedPnL,
		},
		Risk: grid.RiskState{
			DailyRealizedPnL: model.DailyRealizedPnL,
			PeakEquity:       model.PeakEquity,
			Halted:           model.Halted,
			HaltReason:       model.HaltReason,
			LastDailyReset:   model.LastDailyReset,
		},
		Performance: grid.Performance{
			TotalTrades:   model.TotalTrades,
			WinningTrades: model.WinningTrades,
			TotalProfit:   model.TotalProfit,
		},
		UpdatedAt: model.UpdatedAt,
	}, nil
}

// AppendEvent writes one journal row.
func (s *Store) AppendEvent(ev *grid.Event) error {
	model := EventModel{
		ID:         uuid.NewString(),
		InstanceID: ev.InstanceID,
		Type:       ev.Type,
		Detail:     ev.Detail,
		At:         ev.At,
	}
	return s.db.Create(&model).Error
}

// Events returns the journal for an instance, newest first, capped at
// limit rows (0 means 100).
func (s *Store) Events(instanceID string, limit int) ([]EventModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []EventModel
	err := s.db.Where("instance_id = ?", instanceID).
		Order("at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
