package binance

import "time"

// Stats 记录 REST 调用情况，由 /api/monitor/stats 暴露。
type Stats struct {
	Requests    int           `json:"requests"`
	Errors      int           `json:"errors"`
	CacheHits   int           `json:"cache_hits"`
	LastLatency time.Duration `json:"last_latency"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt time.Time     `json:"last_error_at,omitempty"`
}

func (s *Source) recordRequest(latency time.Duration, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Requests++
	s.stats.LastLatency = latency
	if err != nil {
		s.stats.Errors++
		s.stats.LastError = err.Error()
		s.stats.LastErrorAt = time.Now()
	}
}

func (s *Source) recordCacheHit() {
	s.statsMu.Lock()
	s.stats.CacheHits++
	s.statsMu.Unlock()
}

func (s *Source) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
