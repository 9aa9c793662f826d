package offline0

import (
	"math"
	"sync/atomic"
)

type statsCollector struct {
	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64

	network, cache, shell, offline, bypass atomic.Uint64
	writes, writeFailures, writeSkipped    atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(outcome Outcome, respBytes int) {
	if s == nil {
		return
	}
	switch outcome {
	case OutcomeNetwork:
		s.network.Add(1)
	case OutcomeCache:
		s.cache.Add(1)
	case OutcomeShell:
		s.shell.Add(1)
	case OutcomeOffline:
		s.offline.Add(1)
	default:
		s.bypass.Add(1)
	}

	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)
	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) ObserveWrite(err error, skipped bool) {
	if s == nil {
		return
	}
	switch {
	case skipped:
		s.writeSkipped.Add(1)
	case err != nil:
		s.writeFailures.Add(1)
	default:
		s.writes.Add(1)
	}
}

type statsSnapshot struct {
	TotalResponses uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64

	Network, Cache, Shell, Offline, Bypass uint64
	Writes, WriteFailures, WriteSkipped    uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Network:       s.network.Load(),
		Cache:         s.cache.Load(),
		Shell:         s.shell.Load(),
		Offline:       s.offline.Load(),
		Bypass:        s.bypass.Load(),
		Writes:        s.writes.Load(),
		WriteFailures: s.writeFailures.Load(),
		WriteSkipped:  s.writeSkipped.Load(),
	}
	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	out.TotalResponses = count
	out.MinRespBytes = s.minRespBytes.Load()
	if out.MinRespBytes == math.MaxUint64 {
		out.MinRespBytes = 0
	}
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = s.totalRespBytes.Load() / count
	return out
}
