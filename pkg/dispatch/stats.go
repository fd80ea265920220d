package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time copy of dispatcher counters.
type Stats struct {
	Total     int64            `json:"total"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	Denied    int64            `json:"denied"`
	Errors    int64            `json:"errors"`
	Fallbacks int64            `json:"fallbacks"`
	PerAgent  map[string]int64 `json:"per_agent"`
	DeniedBy  map[string]int64 `json:"denied_by"`
	StartedAt time.Time        `json:"started_at"`
}

// atomicStats is updated lock-free on the dispatch path.
type atomicStats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	denied    atomic.Int64
	errors    atomic.Int64
	fallbacks atomic.Int64

	perAgent sync.Map // map[string]*atomic.Int64
	deniedBy sync.Map // map[string]*atomic.Int64

	startedAt time.Time
}

func newAtomicStats(now time.Time) *atomicStats {
	return &atomicStats{startedAt: now}
}

func increment(m *sync.Map, key string) {
	val, _ := m.LoadOrStore(key, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

func (s *atomicStats) incrementAgent(agent string) {
	increment(&s.perAgent, agent)
}

func (s *atomicStats) incrementDenied(reason string) {
	s.denied.Add(1)
	increment(&s.deniedBy, reason)
}

func collect(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

func (s *atomicStats) snapshot() Stats {
	return Stats{
		Total:     s.total.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Denied:    s.denied.Load(),
		Errors:    s.errors.Load(),
		Fallbacks: s.fallbacks.Load(),
		PerAgent:  collect(&s.perAgent),
		DeniedBy:  collect(&s.deniedBy),
		StartedAt: s.startedAt,
	}
}
