package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/store"
	storemodel "tradeloop/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type pendingTradeModel = storemodel.PendingTradeModel
type tradeOutcomeModel = storemodel.TradeOutcomeModel

// GormStore implements the trade journal using Gorm + SQLite.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.TradeJournal = (*GormStore)(nil)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 交易日志路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&pendingTradeModel{}, &tradeOutcomeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db, now: time.Now}, nil
}

// Close 关闭底层数据库连接。
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// --------------------- Pending trades -------------------------

func (s *GormStore) RegisterTrade(ctx context.Context, trade outcome.Trade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	trade.ID = strings.TrimSpace(trade.ID)
	if trade.ID == "" {
		return fmt.Errorf("trade_id 必填")
	}
	if err := trade.Validate(); err != nil {
		return err
	}
	model, err := newPendingTradeModel(trade, s.now())
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trade_id"}}, DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrDuplicateTrade, trade.ID)
	}
	return nil
}

func (s *GormStore) ListPending(ctx context.Context, limit int) ([]outcome.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var models []pendingTradeModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", storemodel.TradeStatusPending).
		Order("opened_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]outcome.Trade, 0, len(models))
	for _, m := range models {
		trade, err := pendingTradeModelToTrade(m)
		if err != nil {
			return nil, fmt.Errorf("decode pending trade %s: %w", m.TradeID, err)
		}
		out = append(out, trade)
	}
	return out, nil
}

// CountPending 返回仍在队列中的交易数量。
func (s *GormStore) CountPending(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&pendingTradeModel{}).
		Where("status = ?", storemodel.TradeStatusPending).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

func (s *GormStore) ClosePending(ctx context.Context, tradeID string, category outcome.Category) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return fmt.Errorf("trade_id 必填")
	}
	status := storemodel.TradeStatusClosed
	if !category.Closed() {
		status = storemodel.TradeStatusInvalid
	}
	res := s.db.WithContext(ctx).Model(&pendingTradeModel{}).
		Where("trade_id = ?", tradeID).
		Updates(map[string]interface{}{
			"status":     status,
			"category":   string(category),
			"updated_at": s.now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrTradeNotFound, tradeID)
	}
	return nil
}

// --------------------- Outcomes -------------------------

func (s *GormStore) RecordOutcome(ctx context.Context, o outcome.TradeOutcome) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(o.TradeID) == "" {
		return fmt.Errorf("trade_id 必填")
	}
	model := newTradeOutcomeModel(o, s.now())
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trade_id"}}, DoNothing: true}).
		Create(&model).Error
}

func (s *GormStore) RecentOutcomes(ctx context.Context, limit int) ([]outcome.TradeOutcome, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []tradeOutcomeModel
	if err := s.db.WithContext(ctx).
		Order("closed_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]outcome.TradeOutcome, 0, len(models))
	for _, m := range models {
		o, err := tradeOutcomeModelToOutcome(m)
		if err != nil {
			return nil, fmt.Errorf("decode outcome %s: %w", m.TradeID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// --------------------- Mapping -------------------------

func newPendingTradeModel(t outcome.Trade, now time.Time) (pendingTradeModel, error) {
	signals, err := signalsJSON(t.Signals)
	if err != nil {
		return pendingTradeModel{}, err
	}
	return pendingTradeModel{
		TradeID:        t.ID,
		Symbol:         strings.ToUpper(strings.TrimSpace(t.Symbol)),
		Direction:      string(t.Direction),
		Entry:          t.Entry.String(),
		Stop:           t.Stop.String(),
		Target:         t.Target.String(),
		OpenedAtUnix:   t.OpenedAt.Unix(),
		CeilingSeconds: int64(t.Ceiling / time.Second),
		Signals:        signals,
		Status:         storemodel.TradeStatusPending,
		CreatedAtUnix:  now.Unix(),
		UpdatedAtUnix:  now.Unix(),
	}, nil
}

func pendingTradeModelToTrade(m pendingTradeModel) (outcome.Trade, error) {
	prices, err := parseDecimals(m.Entry, m.Stop, m.Target)
	if err != nil {
		return outcome.Trade{}, err
	}
	signals, err := parseSignals(m.Signals)
	if err != nil {
		return outcome.Trade{}, err
	}
	return outcome.Trade{
		ID:        m.TradeID,
		Symbol:    m.Symbol,
		Direction: outcome.Direction(m.Direction),
		Entry:     prices[0],
		Stop:      prices[1],
		Target:    prices[2],
		OpenedAt:  time.Unix(m.OpenedAtUnix, 0).UTC(),
		Ceiling:   time.Duration(m.CeilingSeconds) * time.Second,
		Signals:   signals,
	}, nil
}

func newTradeOutcomeModel(o outcome.TradeOutcome, now time.Time) tradeOutcomeModel {
	signals, _ := signalsJSON(o.Signals)
	closedAt := o.ClosedAt
	if closedAt.IsZero() {
		closedAt = now
	}
	return tradeOutcomeModel{
		TradeID:           strings.TrimSpace(o.TradeID),
		Symbol:            strings.ToUpper(strings.TrimSpace(o.Symbol)),
		Direction:         string(o.Direction),
		EntryPrice:        o.EntryPrice.String(),
		StopPrice:         o.StopPrice.String(),
		TargetPrice:       o.TargetPrice.String(),
		EntryReached:      o.EntryReached,
		HighPrice:         o.HighPrice.String(),
		LowPrice:          o.LowPrice.String(),
		ExitPrice:         o.ExitPrice.String(),
		Profit:            o.Profit,
		BestFavorableMove: o.BestFavorableMove,
		TargetDistance:    o.TargetDistance,
		Category:          string(o.Category),
		Signals:           signals,
		ClosedAtUnix:      closedAt.Unix(),
		CreatedAtUnix:     now.Unix(),
	}
}

func tradeOutcomeModelToOutcome(m tradeOutcomeModel) (outcome.TradeOutcome, error) {
	prices, err := parseDecimals(m.EntryPrice, m.StopPrice, m.TargetPrice, m.HighPrice, m.LowPrice, m.ExitPrice)
	if err != nil {
		return outcome.TradeOutcome{}, err
	}
	signals, err := parseSignals(m.Signals)
	if err != nil {
		return outcome.TradeOutcome{}, err
	}
	return outcome.TradeOutcome{
		TradeID:           m.TradeID,
		Symbol:            m.Symbol,
		Direction:         outcome.Direction(m.Direction),
		EntryPrice:        prices[0],
		StopPrice:         prices[1],
		TargetPrice:       prices[2],
		EntryReached:      m.EntryReached,
		HighPrice:         prices[3],
		LowPrice:          prices[4],
		ExitPrice:         prices[5],
		Profit:            m.Profit,
		BestFavorableMove: m.BestFavorableMove,
		TargetDistance:    m.TargetDistance,
		Category:          outcome.Category(m.Category),
		Signals:           signals,
		ClosedAt:          time.Unix(m.ClosedAtUnix, 0).UTC(),
	}, nil
}

func parseDecimals(vals ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			out[i] = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func signalsJSON(signals map[string]int) (datatypes.JSON, error) {
	if len(signals) == 0 {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(signals)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func parseSignals(raw datatypes.JSON) (map[string]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]int
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}
