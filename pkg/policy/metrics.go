package policy

import "sync"

// ComplianceMetrics are running counters over policy evaluations since
// process start.
type ComplianceMetrics struct {
	Evaluations   int64            `json:"evaluations"`
	Allowed       int64            `json:"allowed"`
	Denied        int64            `json:"denied"`
	DeniedByCause map[string]int64 `json:"denied_by_cause"`
	RateLimited   int64            `json:"rate_limited"`
	Reloads       int64            `json:"reloads"`
	ActiveVersion string           `json:"active_version"`
}

type metrics struct {
	mu sync.Mutex
	m  ComplianceMetrics
}

func newMetrics() *metrics {
	return &metrics{m: ComplianceMetrics{DeniedByCause: make(map[string]int64)}}
}

func (x *metrics) record(d Decision) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.m.Evaluations++
	if d.Allowed {
		x.m.Allowed++
		return
	}
	x.m.Denied++
	x.m.DeniedByCause[d.Reason]++
	if d.Reason == ReasonRateLimited {
		x.m.RateLimited++
	}
}

func (x *metrics) reload(version string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.m.Reloads++
	x.m.ActiveVersion = version
}

func (x *metrics) snapshot() ComplianceMetrics {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := x.m
	out.DeniedByCause = make(map[string]int64, len(x.m.DeniedByCause))
	for k, v := range x.m.DeniedByCause {
		out.DeniedByCause[k] = v
	}
	return out
}
