package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// CandidateRecord is one candidate row of a named snapshot.
type CandidateRecord struct {
	ID            uint            `gorm:"primaryKey"`
	Snapshot      string          `gorm:"index:idx_snapshot_candidate,unique;not null"`
	CandidateID   int             `gorm:"index:idx_snapshot_candidate,unique;not null"`
	Name          string          `gorm:"not null"`
	Category      string          `gorm:"size:3;not null"`
	GroupName     string          `gorm:"column:group_name;not null"`
	Cost          decimal.Decimal `gorm:"type:numeric(6,1);not null"`
	SeasonPoints  float64
	PointsPerGame float64
	Form          float64
	FormExtended  float64
	Minutes       float64
	Appearances   float64
	Ownership     float64
	Age           float64
	Fixtures      datatypes.JSON
	CreatedAt     time.Time
}

func (CandidateRecord) TableName() string { return "candidates" }

// SnapshotInfo summarizes one stored snapshot.
type SnapshotInfo struct {
	Name       string    `json:"name"`
	Candidates int       `json:"candidates"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists candidate tables so runs can be repeated against the same pool.
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// Open connects to postgres and migrates the schema.
func Open(databaseURL string, isDevelopment bool, logger *logrus.Entry) (*Store, error) {
	logLevel := gormlogger.Error
	if isDevelopment {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db, logger)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB, logger *logrus.Entry) (*Store, error) {
	if err := db.AutoMigrate(&CandidateRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate candidates: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// SaveSnapshot replaces the named snapshot with candidates.
func (s *Store) SaveSnapshot(ctx context.Context, name string, candidates []types.Candidate) error {
	if name == "" {
		return apperrors.NewInputValidation("snapshot", "name is required")
	}
	records := make([]CandidateRecord, len(candidates))
	for i, c := range candidates {
		rec, err := toRecord(name, c)
		if err != nil {
			return err
		}
		records[i] = rec
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("snapshot = ?", name).Delete(&CandidateRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 200).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}

	s.logger.WithFields(logrus.Fields{
		"snapshot":   name,
		"candidates": len(records),
	}).Info("Saved candidate snapshot")
	return nil
}

// LoadSnapshot returns the candidates of a snapshot ordered by candidate ID.
func (s *Store) LoadSnapshot(ctx context.Context, name string) ([]types.Candidate, error) {
	var records []CandidateRecord
	err := s.db.WithContext(ctx).
		Where("snapshot = ?", name).
		Order("candidate_id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewInputValidation("snapshot", "snapshot %q not found", name)
	}

	out := make([]types.Candidate, len(records))
	for i, rec := range records {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// ListSnapshots returns every snapshot, newest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	var groups []struct {
		Snapshot string
		Count    int
		LastID   uint
	}
	err := s.db.WithContext(ctx).
		Model(&CandidateRecord{}).
		Select("snapshot, COUNT(*) AS count, MAX(id) AS last_id").
		Group("snapshot").
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(groups) == 0 {
		return []SnapshotInfo{}, nil
	}

	ids := make([]uint, len(groups))
	for i, g := range groups {
		ids[i] = g.LastID
	}
	var stamps []CandidateRecord
	if err := s.db.WithContext(ctx).Select("id", "created_at").Where("id IN ?", ids).Find(&stamps).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	createdAt := make(map[uint]time.Time, len(stamps))
	for _, r := range stamps {
		createdAt[r.ID] = r.CreatedAt
	}

	out := make([]SnapshotInfo, len(groups))
	for i, g := range groups {
		out[i] = SnapshotInfo{Name: g.Snapshot, Candidates: g.Count, CreatedAt: createdAt[g.LastID]}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRecord(snapshot string, c types.Candidate) (CandidateRecord, error) {
	fixtures, err := json.Marshal(c.Fixtures)
	if err != nil {
		return CandidateRecord{}, fmt.Errorf("failed to encode fixtures for %d: %w", c.ID, err)
	}
	return CandidateRecord{
		Snapshot:      snapshot,
		CandidateID:   c.ID,
		Name:          c.Name,
		Category:      string(c.Category),
		GroupName:     c.Group,
		Cost:          c.Cost,
		SeasonPoints:  c.SeasonPoints,
		PointsPerGame: c.PointsPerGame,
		Form:          c.Form,
		FormExtended:  c.FormExtended,
		Minutes:       c.Minutes,
		Appearances:   c.Appearances,
		Ownership:     c.Ownership,
		Age:           c.Age,
		Fixtures:      datatypes.JSON(fixtures),
	}, nil
}

func fromRecord(rec CandidateRecord) (types.Candidate, error) {
	var fixtures []types.FixtureDifficulty
	if len(rec.Fixtures) > 0 {
		if err := json.Unmarshal(rec.Fixtures, &fixtures); err != nil {
			return types.Candidate{}, fmt.Errorf("failed to decode fixtures for %d: %w", rec.CandidateID, err)
		}
	}
	return types.Candidate{
		ID:            rec.CandidateID,
		Name:          rec.Name,
		Category:      types.Category(rec.Category),
		Group:         rec.GroupName,
		Cost:          rec.Cost,
		SeasonPoints:  rec.SeasonPoints,
		PointsPerGame: rec.PointsPerGame,
		Form:          rec.Form,
		FormExtended:  rec.FormExtended,
		Minutes:       rec.Minutes,
		Appearances:   rec.Appearances,
		Ownership:     rec.Ownership,
		Age:           rec.Age,
		Fixtures:      fixtures,
	}, nil
}
