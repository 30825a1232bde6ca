package outcome

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCeiling 是交易从开仓到强制判定的最长观察时间。
const DefaultCeiling = 2 * time.Hour

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection 接受 long/short/buy/sell（大小写不敏感）。
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, nil
	case "SHORT", "SELL":
		return Short, nil
	default:
		return "", fmt.Errorf("unknown trade direction %q", s)
	}
}

// sign 返回方向的符号：LONG=+1, SHORT=-1。
func (d Direction) sign() int {
	if d == Short {
		return -1
	}
	return 1
}

type Category string

const (
	Pending         Category = "PENDING"
	EntryNotReached Category = "ENTRY_NOT_REACHED"
	SLHit           Category = "SL_HIT"
	TPHit           Category = "TP_HIT"
	TPNotReached    Category = "TP_NOT_REACHED"
	WrongDirection  Category = "WRONG_DIRECTION"
)

// Categories 列出所有终态分类（不含 PENDING）。
var Categories = []Category{EntryNotReached, SLHit, TPHit, TPNotReached, WrongDirection}

// Closed 只对 Categories 中的终态成立；未知取值一律视为未判定。
func (c Category) Closed() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory 接受大小写不敏感的分类名，含 PENDING。
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if c == Pending || c.Closed() {
		return c, nil
	}
	return "", fmt.Errorf("unknown failure category %q", s)
}

// Trade 是等待验证的一笔交易计划。
type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Entry     decimal.Decimal `json:"entry"`
	Stop      decimal.Decimal `json:"stop"`
	Target    decimal.Decimal `json:"target"`
	OpenedAt  time.Time       `json:"opened_at"`
	Ceiling   time.Duration   `json:"ceiling"`
	Signals   map[string]int  `json:"signals,omitempty"`
}

func (t Trade) ceiling() time.Duration {
	if t.Ceiling <= 0 {
		return DefaultCeiling
	}
	return t.Ceiling
}

// Deadline 返回强制判定时间点。
func (t Trade) Deadline() time.Time {
	return t.OpenedAt.Add(t.ceiling())
}

func (t Trade) Validate() error {
	if t.Direction != Long && t.Direction != Short {
		return fmt.Errorf("trade %s: invalid direction %q", t.ID, t.Direction)
	}
	if !t.Entry.IsPositive() || !t.Stop.IsPositive() || !t.Target.IsPositive() {
		return fmt.Errorf("trade %s: entry/stop/target must be positive", t.ID)
	}
	if t.OpenedAt.IsZero() {
		return fmt.Errorf("trade %s: opened_at is required", t.ID)
	}
	switch t.Direction {
	case Long:
		if !t.Stop.LessThan(t.Entry) || !t.Target.GreaterThan(t.Entry) {
			return fmt.Errorf("trade %s: LONG requires stop < entry < target", t.ID)
		}
	case Short:
		if !t.Stop.GreaterThan(t.Entry) || !t.Target.LessThan(t.Entry) {
			return fmt.Errorf("trade %s: SHORT requires target < entry < stop", t.ID)
		}
	}
	return nil
}

// PricePoint 是一根已收盘 K 线的高低收。
type PricePoint struct {
	Time  time.Time       `json:"time"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// PricePath 按时间升序排列。
type PricePath []PricePoint

// TradeOutcome 是一笔已判定交易的不可变结果，只被聚合器消费一次。
type TradeOutcome struct {
	TradeID      string          `json:"trade_id"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	EntryReached bool            `json:"entry_reached"`
	HighPrice    decimal.Decimal `json:"high_price"`
	LowPrice     decimal.Decimal `json:"low_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	// Profit 为收益率（0.01 = 1%），已按方向取符号。
	Profit float64 `json:"profit"`
	// BestFavorableMove / TargetDistance 都是相对 entry 的比例。
	BestFavorableMove float64        `json:"best_favorable_move"`
	TargetDistance    float64        `json:"target_distance"`
	Category          Category       `json:"category"`
	Signals           map[string]int `json:"signals,omitempty"`
	ClosedAt          time.Time      `json:"closed_at"`
}

// Win 表示这笔交易盈利。
func (o TradeOutcome) Win() bool { return o.Profit > 0 }

// DirectionSign 返回交易方向的符号。
func (o TradeOutcome) DirectionSign() int { return o.Direction.sign() }
