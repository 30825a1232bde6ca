package model

import (
	"time"

	"gorm.io/datatypes"
)

type TradeStatus int

const (
	TradeStatusPending TradeStatus = 0
	TradeStatusClosed  TradeStatus = 1
	// TradeStatusInvalid 表示交易参数无法通过校验，不再参与验证。
	TradeStatusInvalid TradeStatus = 2
)

// PendingTradeModel maps to 'pending_trades' table.
// 价格字段以十进制字符串保存，避免浮点误差。
type PendingTradeModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	TradeID        string         `gorm:"column:trade_id;uniqueIndex"`
	Symbol         string         `gorm:"column:symbol;index"`
	Direction      string         `gorm:"column:direction"`
	Entry          string         `gorm:"column:entry"`
	Stop           string         `gorm:"column:stop"`
	Target         string         `gorm:"column:target"`
	OpenedAtUnix   int64          `gorm:"column:opened_at"`
	CeilingSeconds int64          `gorm:"column:ceiling_seconds"`
	Signals        datatypes.JSON `gorm:"column:signals;type:TEXT"`
	Status         TradeStatus    `gorm:"column:status;index"`
	Category       string         `gorm:"column:category"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (PendingTradeModel) TableName() string { return "pending_trades" }

// TradeOutcomeModel maps to 'trade_outcomes' table.
type TradeOutcomeModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	TradeID           string         `gorm:"column:trade_id;uniqueIndex"`
	Symbol            string         `gorm:"column:symbol;index"`
	Direction         string         `gorm:"column:direction"`
	EntryPrice        string         `gorm:"column:entry_price"`
	StopPrice         string         `gorm:"column:stop_price"`
	TargetPrice       string         `gorm:"column:target_price"`
	EntryReached      bool           `gorm:"column:entry_reached"`
	HighPrice         string         `gorm:"column:high_price"`
	LowPrice          string         `gorm:"column:low_price"`
	ExitPrice         string         `gorm:"column:exit_price"`
	Profit            float64        `gorm:"column:profit"`
	BestFavorableMove float64        `gorm:"column:best_favorable_move"`
	TargetDistance    float64        `gorm:"column:target_distance"`
	Category          string         `gorm:"column:category;index"`
	Signals           datatypes.JSON `gorm:"column:signals;type:TEXT"`
	ClosedAtUnix      int64          `gorm:"column:closed_at;index"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
}

func (TradeOutcomeModel) TableName() string { return "trade_outcomes" }
