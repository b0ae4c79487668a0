package main

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type opKind int

const (
	// opSend spans a send-message frame until the backend echoes it back
	// as message-sent.
	opSend opKind = iota
	// opRead is one history fetch over HTTP.
	opRead
)

func (k opKind) String() string {
	if k == opSend {
		return "send"
	}
	return "read"
}

type opStats struct {
	ok        int64
	failed    int64
	total     time.Duration
	min       time.Duration
	max       time.Duration
	latencies []time.Duration
}

// Stats aggregates latencies per operation kind. Sends that never see their
// echo are neither ok nor failed; report counts them as unconfirmed.
type Stats struct {
	mu  sync.Mutex
	ops [2]opStats
}

func (s *Stats) observe(kind opKind, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &s.ops[kind]
	o.ok++
	o.total += latency
	if latency > o.max {
		o.max = latency
	}
	if o.min == 0 || latency < o.min {
		o.min = latency
	}
	o.latencies = append(o.latencies, latency)
}

func (s *Stats) fail(kind opKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[kind].failed++
}

type summary struct {
	OK     int64
	Failed int64
	Avg    time.Duration
	Min    time.Duration
	Max    time.Duration
	P99    time.Duration
}

func (s *Stats) summary(kind opKind) summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.ops[kind]
	sum := summary{OK: o.ok, Failed: o.failed, Min: o.min, Max: o.max, P99: p99(o.latencies)}
	if o.ok > 0 {
		sum.Avg = o.total / time.Duration(o.ok)
	}
	return sum
}

func p99(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (s *Stats) report(duration time.Duration, unconfirmed int) {
	var ops int64
	for _, kind := range []opKind{opSend, opRead} {
		sum := s.summary(kind)
		ops += sum.OK + sum.Failed
		log.Info().
			Str("op", kind.String()).
			Int64("ok", sum.OK).
			Int64("failed", sum.Failed).
			Dur("avg", sum.Avg).
			Dur("min", sum.Min).
			Dur("max", sum.Max).
			Dur("p99", sum.P99).
			Msg("latency")
	}
	log.Info().
		Int("unconfirmed_sends", unconfirmed).
		Float64("ops_per_sec", float64(ops)/duration.Seconds()).
		Dur("duration", duration).
		Msg("load test results")
}
