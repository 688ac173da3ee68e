package bank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const upsertChunk = 500

// Store is the local candle bank: a sqlite file holding the last saved window
// of each series, so a restart does not have to download history again.
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
}

var _ interfaces.SequenceStore = (*Store)(nil)

func Open(path string, logger *logrus.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("candle bank path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create candle bank dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open candle bank: %w", err)
	}
	if err := db.AutoMigrate(&CandleModel{}); err != nil {
		return nil, fmt.Errorf("migrate candle bank: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Store{db: db, logger: logger.WithField("component", "candle_bank")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSequence replaces everything stored for the key with seq, so a load
// returns exactly the last saved window.
func (s *Store) SaveSequence(ctx context.Context, seq domain.Sequence) error {
	if seq.IsEmpty() {
		return nil
	}
	key := seq.Key()
	models := make([]CandleModel, 0, seq.Len())
	for _, c := range seq.All() {
		models = append(models, newCandleModel(key, c))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instrument = ? AND granularity = ?", key.Instrument.String(), key.Granularity.Code).
			Delete(&CandleModel{}).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(models, upsertChunk).Error
	})
	if err != nil {
		return fmt.Errorf("save %s to candle bank: %w", key, err)
	}
	s.logger.WithFields(logrus.Fields{"key": key.String(), "candles": len(models)}).Debug("saved window")
	return nil
}

// UpsertCandles merges individual candles into the stored window. A stored
// complete candle is never replaced by an incomplete one.
func (s *Store) UpsertCandles(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	key := domain.Key{Instrument: instrument, Granularity: granularity}
	models := make([]CandleModel, 0, len(candles))
	for _, c := range candles {
		models = append(models, newCandleModel(key, c))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "instrument"}, {Name: "granularity"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"complete",
			"ask_o", "ask_h", "ask_l", "ask_c",
			"bid_o", "bid_h", "bid_l", "bid_c",
			"mid_o", "mid_h", "mid_l", "mid_c",
			"updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "NOT candles.complete OR excluded.complete"},
		}},
	}).CreateInBatches(models, upsertChunk).Error
	if err != nil {
		return fmt.Errorf("upsert %s into candle bank: %w", key, err)
	}
	return nil
}

func (s *Store) LoadSequence(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity) (domain.Sequence, error) {
	var models []CandleModel
	err := s.db.WithContext(ctx).
		Where("instrument = ? AND granularity = ?", instrument.String(), granularity.Code).
		Order("period_start ASC").
		Find(&models).Error
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("load %s:%s from candle bank: %w", instrument, granularity, err)
	}
	if len(models) == 0 {
		return domain.Sequence{}, interfaces.ErrSequenceNotFound
	}
	candles := make([]domain.Candle, 0, len(models))
	for i, m := range models {
		if !m.Complete && i != len(models)-1 {
			continue
		}
		candles = append(candles, m.toDomain())
	}
	return domain.NewSequence(instrument, granularity, candles)
}

// Keys lists every series stored in the bank.
func (s *Store) Keys(ctx context.Context) ([]domain.Key, error) {
	var rows []struct {
		Instrument  string
		Granularity string
	}
	err := s.db.WithContext(ctx).Model(&CandleModel{}).
		Distinct("instrument", "granularity").
		Order("instrument, granularity").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list candle bank keys: %w", err)
	}
	keys := make([]domain.Key, 0, len(rows))
	for _, row := range rows {
		g, err := domain.ParseGranularity(row.Granularity)
		if err != nil {
			s.logger.WithError(err).Warn("skipping unknown granularity in candle bank")
			continue
		}
		keys = append(keys, domain.Key{Instrument: domain.Instrument(row.Instrument), Granularity: g})
	}
	return keys, nil
}
