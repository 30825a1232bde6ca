package health

import (
	"sort"
	"sync"
	"time"
)

// Stats 是单个 provider 的累计观测；进程重启前不会清零。
type Stats struct {
	SuccessCount int           `json:"success_count"`
	ErrorCount   int           `json:"error_count"`
	TotalLatency time.Duration `json:"total_latency"`
	LastError    string        `json:"last_error,omitempty"`
	LastErrorAt  time.Time     `json:"last_error_at,omitempty"`
}

// AvgLatency 为成功调用的平均耗时。
func (s Stats) AvgLatency() time.Duration {
	if s.SuccessCount == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.SuccessCount)
}

// ErrorRate = errors / (successes + errors + 1)，新 provider 得到中性但非零风险的先验。
func (s Stats) ErrorRate() float64 {
	return float64(s.ErrorCount) / float64(s.SuccessCount+s.ErrorCount+1)
}

// Candidate 是参与排序的 provider 描述。
type Candidate struct {
	ID             string
	Primary        bool
	HasCredentials bool
}

// Registry 维护各 provider 的健康计数并给出调度顺序。
type Registry struct {
	mu         sync.Mutex
	candidates []Candidate
	stats      map[string]*Stats
	tolerance  float64
}

// NewRegistry 按配置顺序登记 provider；tolerance 决定主 provider 在错误率接近时仍排第一的宽容度。
func NewRegistry(candidates []Candidate, tolerance float64) *Registry {
	if tolerance < 0 {
		tolerance = 0
	}
	r := &Registry{
		candidates: append([]Candidate(nil), candidates...),
		stats:      make(map[string]*Stats, len(candidates)),
		tolerance:  tolerance,
	}
	for _, c := range candidates {
		r.stats[c.ID] = &Stats{}
	}
	return r
}

func (r *Registry) entry(id string) *Stats {
	st, ok := r.stats[id]
	if !ok {
		st = &Stats{}
		r.stats[id] = st
	}
	return st
}

func (r *Registry) MarkSuccess(id string, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.entry(id)
	st.SuccessCount++
	st.TotalLatency += elapsed
}

func (r *Registry) MarkError(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.entry(id)
	st.ErrorCount++
	st.LastError = message
	st.LastErrorAt = time.Now()
}

// Order 返回调度顺序：排除缺少凭证的 provider，按错误率升序；
// 主 provider 只要错误率不高于最优值 + tolerance 就排在最前。其余按配置顺序稳定排序。
func (r *Registry) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type ranked struct {
		id      string
		rate    float64
		primary bool
	}
	list := make([]ranked, 0, len(r.candidates))
	for _, c := range r.candidates {
		if !c.HasCredentials {
			continue
		}
		list = append(list, ranked{id: c.ID, rate: r.entry(c.ID).ErrorRate(), primary: c.Primary})
	}
	if len(list) == 0 {
		return nil
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].rate < list[j].rate })

	best := list[0].rate
	for i, item := range list {
		if item.primary && item.rate <= best+r.tolerance {
			promoted := item
			copy(list[1:i+1], list[:i])
			list[0] = promoted
			break
		}
	}
	out := make([]string, len(list))
	for i, item := range list {
		out[i] = item.id
	}
	return out
}

// Snapshot 返回所有 provider 的统计副本。
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.stats))
	for id, st := range r.stats {
		out[id] = *st
	}
	return out
}
