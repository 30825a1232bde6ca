package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/jsonutil"
)

const (
	dateLayout   = "2006-01-02"
	dayPeriod    = 24 * time.Hour
	hourPeriod   = time.Hour
	minutePeriod = time.Minute
)

// Quota 是 provider:model 的请求限额；0 表示该窗口不限。
type Quota struct {
	PerDay    int `json:"per_day"`
	PerHour   int `json:"per_hour"`
	PerMinute int `json:"per_minute"`
}

// Key 标识一个 provider:model 计数桶。
type Key struct {
	Provider string
	Model    string
}

func (k Key) String() string { return k.Provider + ":" + k.Model }

// Window 是单个 provider:model 的滚动窗口计数。
type Window struct {
	RequestsToday      int       `json:"requests_today"`
	RequestsThisHour   int       `json:"requests_this_hour"`
	RequestsThisMinute int       `json:"requests_this_minute"`
	DayStart           time.Time `json:"day_start"`
	HourStart          time.Time `json:"hour_start"`
	MinuteStart        time.Time `json:"minute_start"`
}

type ledgerFile struct {
	Date      string             `json:"date"`
	Usage     map[string]*Window `json:"usage"`
	LastReset time.Time          `json:"last_reset"`
}

type Options struct {
	Path         string
	SafetyBuffer float64
	// Default 用于未配置限额的 provider:model，本身已是保守值，不再乘缓冲系数。
	Default Quota
	Quotas  map[Key]Quota
}

type Option func(*Ledger)

// WithClock 替换时钟（测试用），需在加载前生效。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger 记录每个 provider:model 在日/时/分窗口内的请求数，并在请求前做配额检查。
// 检查与记录共用一把锁；每次记录同步落盘。
type Ledger struct {
	mu       sync.Mutex
	path     string
	buffer   float64
	defaults Quota
	quotas   map[string]Quota
	now      func() time.Time

	date      string
	usage     map[string]*Window
	lastReset time.Time
}

func NewLedger(opts Options, fns ...Option) *Ledger {
	l := &Ledger{
		path:     strings.TrimSpace(opts.Path),
		buffer:   opts.SafetyBuffer,
		defaults: opts.Default,
		quotas:   make(map[string]Quota, len(opts.Quotas)),
		now:      time.Now,
	}
	if l.buffer <= 0 || l.buffer > 1 {
		l.buffer = 1
	}
	for k, q := range opts.Quotas {
		l.quotas[k.String()] = q
	}
	for _, fn := range fns {
		fn(l)
	}
	l.load()
	return l
}

func (l *Ledger) load() {
	now := l.now()
	l.reset(now)
	if l.path == "" {
		return
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("usage ledger: read %s failed, starting fresh: %v", l.path, err)
		}
		return
	}
	var f ledgerFile
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warnf("usage ledger: parse %s failed, starting fresh: %v", l.path, err)
		return
	}
	if f.Date != now.Format(dateLayout) {
		logger.Infof("usage ledger: stored date %s != today, reset", f.Date)
		return
	}
	for k, w := range f.Usage {
		if w == nil {
			continue
		}
		sanitize(w)
		l.usage[k] = w
	}
	l.lastReset = f.LastReset
}

func (l *Ledger) reset(now time.Time) {
	l.date = now.Format(dateLayout)
	l.usage = make(map[string]*Window)
	l.lastReset = now
}

// rollover 在日期变化时整体重置；需持锁调用。
func (l *Ledger) rollover(now time.Time) {
	if today := now.Format(dateLayout); today != l.date {
		logger.Infof("usage ledger: date rollover %s -> %s, reset counters", l.date, today)
		l.reset(now)
	}
}

func (l *Ledger) window(key string, now time.Time) *Window {
	w, ok := l.usage[key]
	if !ok {
		w = &Window{DayStart: now, HourStart: now, MinuteStart: now}
		l.usage[key] = w
	}
	reclaim(w, now)
	return w
}

// reclaim 回收已超过周期的窗口。
func reclaim(w *Window, now time.Time) {
	if now.Sub(w.DayStart) >= dayPeriod {
		w.RequestsToday = 0
		w.DayStart = now
	}
	if now.Sub(w.HourStart) >= hourPeriod {
		w.RequestsThisHour = 0
		w.HourStart = now
	}
	if now.Sub(w.MinuteStart) >= minutePeriod {
		w.RequestsThisMinute = 0
		w.MinuteStart = now
	}
}

func sanitize(w *Window) {
	if w.RequestsToday < 0 {
		w.RequestsToday = 0
	}
	if w.RequestsThisHour < 0 {
		w.RequestsThisHour = 0
	}
	if w.RequestsThisMinute < 0 {
		w.RequestsThisMinute = 0
	}
}

// Limits 返回 provider:model 实际生效的上限（已乘缓冲系数）。
func (l *Ledger) Limits(provider, model string) Quota {
	q, ok := l.quotas[Key{Provider: provider, Model: model}.String()]
	if !ok {
		return l.defaults
	}
	return Quota{
		PerDay:    l.buffered(q.PerDay),
		PerHour:   l.buffered(q.PerHour),
		PerMinute: l.buffered(q.PerMinute),
	}
}

func (l *Ledger) buffered(limit int) int {
	if limit <= 0 {
		return 0
	}
	eff := int(math.Floor(float64(limit) * l.buffer))
	if eff < 1 {
		eff = 1
	}
	return eff
}

// CheckBudget 判断 provider:model 是否还能再发一次请求。
func (l *Ledger) CheckBudget(provider, model string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollover(now)
	w := l.window(Key{Provider: provider, Model: model}.String(), now)
	lim := l.Limits(provider, model)
	if lim.PerDay > 0 && w.RequestsToday >= lim.PerDay {
		return false, fmt.Sprintf("Daily limit reached (%d/%d)", w.RequestsToday, lim.PerDay)
	}
	if lim.PerHour > 0 && w.RequestsThisHour >= lim.PerHour {
		return false, fmt.Sprintf("Hourly limit reached (%d/%d)", w.RequestsThisHour, lim.PerHour)
	}
	if lim.PerMinute > 0 && w.RequestsThisMinute >= lim.PerMinute {
		return false, fmt.Sprintf("Minute limit reached (%d/%d)", w.RequestsThisMinute, lim.PerMinute)
	}
	return true, "Budget available"
}

// RecordRequest 三个窗口同时加一并同步落盘。落盘失败时内存计数仍保留。
func (l *Ledger) RecordRequest(provider, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollover(now)
	w := l.window(Key{Provider: provider, Model: model}.String(), now)
	w.RequestsToday++
	w.RequestsThisHour++
	w.RequestsThisMinute++
	if err := l.persistLocked(); err != nil {
		return fmt.Errorf("persist usage ledger: %w", err)
	}
	return nil
}

func (l *Ledger) persistLocked() error {
	if l.path == "" {
		return nil
	}
	data, err := jsonutil.MarshalStable(ledgerFile{Date: l.date, Usage: l.usage, LastReset: l.lastReset})
	if err != nil {
		return err
	}
	return jsonutil.WriteFileAtomic(l.path, data, 0o644)
}

// Remaining 描述某个 provider:model 的当日用量与剩余额度；上限为 0 时剩余为 -1（不限）。
type Remaining struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	UsedToday      int    `json:"used_today"`
	UsedThisHour   int    `json:"used_this_hour"`
	UsedThisMinute int    `json:"used_this_minute"`
	Limits         Quota  `json:"limits"`
	DailyLeft      int    `json:"daily_left"`
	HourlyLeft     int    `json:"hourly_left"`
	MinuteLeft     int    `json:"minute_left"`
}

func (l *Ledger) Remaining(provider, model string) Remaining {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollover(now)
	var w Window
	if cur, ok := l.usage[Key{Provider: provider, Model: model}.String()]; ok {
		reclaim(cur, now)
		w = *cur
	}
	lim := l.Limits(provider, model)
	return Remaining{
		Provider:       provider,
		Model:          model,
		UsedToday:      w.RequestsToday,
		UsedThisHour:   w.RequestsThisHour,
		UsedThisMinute: w.RequestsThisMinute,
		Limits:         lim,
		DailyLeft:      left(lim.PerDay, w.RequestsToday),
		HourlyLeft:     left(lim.PerHour, w.RequestsThisHour),
		MinuteLeft:     left(lim.PerMinute, w.RequestsThisMinute),
	}
}

func left(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Keys 返回已有计数的 provider:model（有序）。
func (l *Ledger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.usage))
	for k := range l.usage {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Date 返回当前账本日期。
func (l *Ledger) Date() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.date
}
