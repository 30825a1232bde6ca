package outcome

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// walkResult 记录沿价格路径扫描得到的关键位置。
type walkResult struct {
	points   PricePath // 截止期之前的点
	elapsed  bool
	entryIdx int // -1 表示 entry 未触达
	exitIdx  int // 止损/止盈触发的点，-1 表示都未触发
	hit      Category
}

func walk(t Trade, path PricePath, now time.Time) walkResult {
	deadline := t.Deadline()
	res := walkResult{elapsed: !now.Before(deadline), entryIdx: -1, exitIdx: -1}
	for _, p := range path {
		if !p.Time.Before(deadline) {
			break
		}
		res.points = append(res.points, p)
	}
	for i, p := range res.points {
		if res.entryIdx < 0 {
			if !touches(res.points, i, t.Entry) {
				continue
			}
			res.entryIdx = i
		}
		stop, target := levelsHit(t, p)
		// 同一根 K 线内无法判断先后，按止损优先处理。
		if stop {
			res.exitIdx, res.hit = i, SLHit
			return res
		}
		if target {
			res.exitIdx, res.hit = i, TPHit
			return res
		}
	}
	return res
}

// touches 判断第 i 根 K 线是否触及 price；跳空时用上一根收盘价补齐区间。
func touches(points PricePath, i int, price decimal.Decimal) bool {
	lo, hi := points[i].Low, points[i].High
	if i > 0 {
		prev := points[i-1].Close
		lo = decimal.Min(lo, prev)
		hi = decimal.Max(hi, prev)
	}
	return lo.LessThanOrEqual(price) && hi.GreaterThanOrEqual(price)
}

func levelsHit(t Trade, p PricePoint) (stop, target bool) {
	if t.Direction == Short {
		return p.High.GreaterThanOrEqual(t.Stop), p.Low.LessThanOrEqual(t.Target)
	}
	return p.Low.LessThanOrEqual(t.Stop), p.High.GreaterThanOrEqual(t.Target)
}

// Classify 判定交易当前所处的结果分类，按以下顺序首个命中即返回：
// ENTRY_NOT_REACHED, SL_HIT, TP_HIT, 到期后的 WRONG_DIRECTION / TP_NOT_REACHED，
// 其余情况为 PENDING，应留到下一轮轮询再判定。
func Classify(t Trade, path PricePath, now time.Time) Category {
	return walk(t, path, now).category(t)
}

func (w walkResult) category(t Trade) Category {
	switch {
	case w.entryIdx < 0 && w.elapsed:
		return EntryNotReached
	case w.entryIdx < 0:
		return Pending
	case w.hit != "":
		return w.hit
	case !w.elapsed:
		return Pending
	}
	if signedMove(t, w.points[len(w.points)-1].Close).IsNegative() {
		return WrongDirection
	}
	return TPNotReached
}

// signedMove 返回按方向取符号后的 (price-entry)/entry。
func signedMove(t Trade, price decimal.Decimal) decimal.Decimal {
	move := price.Sub(t.Entry).Div(t.Entry)
	if t.Direction == Short {
		return move.Neg()
	}
	return move
}

// BuildOutcome 根据已判定的分类生成 TradeOutcome。ENTRY_NOT_REACHED 的收益固定为 0。
func BuildOutcome(t Trade, path PricePath, cat Category, closedAt time.Time) (TradeOutcome, error) {
	if !cat.Closed() {
		return TradeOutcome{}, fmt.Errorf("trade %s is still %s", t.ID, Pending)
	}
	w := walk(t, path, closedAt)
	if got := w.category(t); got != cat {
		return TradeOutcome{}, fmt.Errorf("trade %s: category %s does not match price path (%s)", t.ID, cat, got)
	}
	out := TradeOutcome{
		TradeID:        t.ID,
		Symbol:         t.Symbol,
		Direction:      t.Direction,
		EntryPrice:     t.Entry,
		StopPrice:      t.Stop,
		TargetPrice:    t.Target,
		Category:       cat,
		Signals:        copySignals(t.Signals),
		ClosedAt:       closedAt,
		TargetDistance: toFloat(t.Target.Sub(t.Entry).Abs().Div(t.Entry)),
	}
	last := len(w.points) - 1
	if w.exitIdx >= 0 {
		last = w.exitIdx
	}
	if last >= 0 {
		out.HighPrice, out.LowPrice = rangeOf(w.points[:last+1])
	}
	if cat == EntryNotReached {
		out.ExitPrice = t.Entry
		return out, nil
	}
	out.EntryReached = true
	switch cat {
	case SLHit:
		out.ExitPrice = t.Stop
	case TPHit:
		out.ExitPrice = t.Target
	default:
		out.ExitPrice = w.points[last].Close
	}
	out.Profit = toFloat(signedMove(t, out.ExitPrice))
	out.BestFavorableMove = bestFavorable(t, w.points[w.entryIdx:last+1])
	return out, nil
}

// Normalize 统一外部传入结果的不变量：未入场的交易收益为 0，且不计入方向/止盈序列。
func (o TradeOutcome) Normalize() TradeOutcome {
	if o.Category == EntryNotReached {
		o.EntryReached = false
		o.Profit = 0
		o.BestFavorableMove = 0
	}
	if o.Direction == "" {
		o.Direction = Long
	}
	return o
}

// Canonical 校验外部传入的结果：分类必须是已知终态，方向统一为 LONG/SHORT（空值按 LONG）。
func (o TradeOutcome) Canonical() (TradeOutcome, error) {
	cat, err := ParseCategory(string(o.Category))
	if err != nil {
		return TradeOutcome{}, err
	}
	if !cat.Closed() {
		return TradeOutcome{}, fmt.Errorf("trade %s: category %s is not a closed outcome", o.TradeID, cat)
	}
	o.Category = cat
	if strings.TrimSpace(string(o.Direction)) != "" {
		dir, err := ParseDirection(string(o.Direction))
		if err != nil {
			return TradeOutcome{}, err
		}
		o.Direction = dir
	}
	return o.Normalize(), nil
}

func bestFavorable(t Trade, points PricePath) float64 {
	if len(points) == 0 {
		return 0
	}
	hi, lo := rangeOf(points)
	var move decimal.Decimal
	if t.Direction == Short {
		move = t.Entry.Sub(lo)
	} else {
		move = hi.Sub(t.Entry)
	}
	if move.IsNegative() {
		return 0
	}
	return toFloat(move.Div(t.Entry))
}

func rangeOf(points PricePath) (hi, lo decimal.Decimal) {
	hi, lo = points[0].High, points[0].Low
	for _, p := range points[1:] {
		hi = decimal.Max(hi, p.High)
		lo = decimal.Min(lo, p.Low)
	}
	return hi, lo
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func copySignals(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
