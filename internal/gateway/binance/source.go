package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/logger"
	symbolpkg "tradeloop/internal/pkg/symbol"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	maxHistoryLimit = 1500
	// klineGrace 是 K 线收盘后等待交易所落盘的宽限期。
	klineGrace = 10 * time.Second
)

// Source 通过 go-binance futures K 线接口提供交易验证所需的价格路径。
type Source struct {
	cfg      Config
	client   *futures.Client
	interval time.Duration
	cache    *store.PriceCache
	now      func() time.Time

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config, cache *store.PriceCache) (*Source, error) {
	final := cfg.withDefaults()
	interval, ok := scheduler.ParseIntervalDuration(final.Interval)
	if !ok {
		return nil, fmt.Errorf("invalid kline interval %q", final.Interval)
	}
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if cache == nil {
		cache = store.NewPriceCache(0)
	}
	return &Source{
		cfg:      final,
		client:   client,
		interval: interval,
		cache:    cache,
		now:      time.Now,
	}, nil
}

// PricePath 返回 [from, to) 内已收盘的 K 线（包含 from 所在的那一根）。
// 已缓存的部分不会重复请求。
func (s *Source) PricePath(ctx context.Context, sym string, from, to time.Time) (outcome.PricePath, error) {
	clean := symbolpkg.Canonical(sym)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !to.After(from) {
		return nil, nil
	}
	start := from.Truncate(s.interval)
	fetchFrom := start
	cached := s.cache.Range(clean, s.cfg.Interval, start, to)
	if len(cached) > 0 && !cached[0].Time.After(start) {
		fetchFrom = cached[len(cached)-1].Time.Add(s.interval)
		s.recordCacheHit()
	}
	if fetchFrom.Before(to) {
		fetched, err := s.fetch(ctx, clean, fetchFrom, to)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(clean, s.cfg.Interval, fetched); err != nil {
			logger.Warnf("binance: cache %s failed: %v", clean, err)
		}
	}
	return s.cache.Range(clean, s.cfg.Interval, start, to), nil
}

func (s *Source) fetch(ctx context.Context, clean string, from, to time.Time) (outcome.PricePath, error) {
	var out outcome.PricePath
	cursor := from
	for cursor.Before(to) {
		began := time.Now()
		kls, err := s.client.NewKlinesService().
			Symbol(clean).
			Interval(s.cfg.Interval).
			StartTime(cursor.UnixMilli()).
			EndTime(to.UnixMilli() - 1).
			Limit(maxHistoryLimit).
			Do(ctx)
		s.recordRequest(time.Since(began), err)
		if err != nil {
			return nil, fmt.Errorf("fetch %s klines: %w", clean, err)
		}
		page := make(outcome.PricePath, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			p, err := convertKline(kl)
			if err != nil {
				return nil, fmt.Errorf("parse %s kline %d: %w", clean, kl.OpenTime, err)
			}
			page = append(page, p)
		}
		out = append(out, page...)
		if len(page) < maxHistoryLimit {
			break
		}
		cursor = page[len(page)-1].Time.Add(s.interval)
	}
	return dropUnclosed(out, s.interval, s.now().UTC(), klineGrace), nil
}

func convertKline(kl *futures.Kline) (outcome.PricePoint, error) {
	high, err := decimal.NewFromString(strings.TrimSpace(kl.High))
	if err != nil {
		return outcome.PricePoint{}, err
	}
	low, err := decimal.NewFromString(strings.TrimSpace(kl.Low))
	if err != nil {
		return outcome.PricePoint{}, err
	}
	closePrice, err := decimal.NewFromString(strings.TrimSpace(kl.Close))
	if err != nil {
		return outcome.PricePoint{}, err
	}
	return outcome.PricePoint{
		Time:  time.UnixMilli(kl.OpenTime).UTC(),
		High:  high,
		Low:   low,
		Close: closePrice,
	}, nil
}

// dropUnclosed 丢弃尚未收盘的最后一根 K 线：Binance 返回的最后一根可能仍在进行中。
func dropUnclosed(points outcome.PricePath, interval time.Duration, now time.Time, grace time.Duration) outcome.PricePath {
	if len(points) == 0 || interval <= 0 {
		return points
	}
	if grace < 0 {
		grace = 0
	}
	last := points[len(points)-1]
	if now.Before(last.Time.Add(interval + grace)) {
		return points[:len(points)-1]
	}
	return points
}
