package vmix

import (
	"sync"
	"time"

	"github.com/opd-ai/vmix/bridge"
	"github.com/sirupsen/logrus"
)

type counters struct {
	overruns    uint64
	underruns   uint64
	starvations uint64
}

// reporter turns per-channel counters into one aggregated log entry per
// report window, so transient overruns and underruns are never logged one
// by one.
type reporter struct {
	interval time.Duration

	mu         sync.Mutex
	last       map[string]counters
	pending    map[string]counters
	lastReport time.Time
}

func newReporter(interval time.Duration) *reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &reporter{
		interval: interval,
		last:     make(map[string]counters),
		pending:  make(map[string]counters),
	}
}

// observe folds the current counters in and returns the deltas reported,
// keyed by channel name, when a report window closed.
func (r *reporter) observe(now time.Time, stats map[string]bridge.Stats, names map[string]string) map[string]counters {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range stats {
		cur := counters{overruns: s.Overruns, underruns: s.Underruns, starvations: s.GateStarvations}
		prev := r.last[id]
		r.last[id] = cur

		d := r.pending[id]
		d.overruns += delta(cur.overruns, prev.overruns)
		d.underruns += delta(cur.underruns, prev.underruns)
		d.starvations += delta(cur.starvations, prev.starvations)
		r.pending[id] = d
	}
	for id := range r.last {
		if _, ok := stats[id]; !ok {
			delete(r.last, id)
		}
	}

	if r.lastReport.IsZero() {
		r.lastReport = now
	}
	if now.Sub(r.lastReport) < r.interval {
		return nil
	}
	r.lastReport = now

	var reported map[string]counters
	for id, d := range r.pending {
		delete(r.pending, id)
		if d == (counters{}) {
			continue
		}
		name := names[id]
		if name == "" {
			name = id
		}
		if reported == nil {
			reported = make(map[string]counters)
		}
		reported[name] = d

		logrus.WithFields(logrus.Fields{
			"function":    "Mixer.report",
			"channel":     name,
			"overruns":    d.overruns,
			"underruns":   d.underruns,
			"starvations": d.starvations,
			"window":      r.interval,
		}).Warn("Audio buffer anomalies in report window")
	}
	return reported
}

// delta tolerates counters that restarted from zero.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
