// Package metrics records per-phase pipeline timings in a fixed-size rolling buffer.
//
// The collector is process-scoped but explicitly constructed; callers pass it around
// rather than reaching for a global. Record never blocks and never fails: a nil
// collector, a zero-capacity collector, or an unknown phase turn it into a no-op.
package metrics

import (
	"maps"
	"slices"
	"sync/atomic"
	"time"
)

// DefaultCapacity is used when NewCollector is given a non-positive capacity.
const DefaultCapacity = 512

// Phase names one measured stage of a scan round trip.
type Phase string

const (
	PhaseUpload    Phase = "upload"
	PhaseTTFB      Phase = "ttfb"
	PhaseDownload  Phase = "download"
	PhaseParsing   Phase = "parsing"
	PhaseMapping   Phase = "mapping"
	PhaseRendering Phase = "rendering"
)

// Phases lists every phase in pipeline order.
var Phases = []Phase{PhaseUpload, PhaseTTFB, PhaseDownload, PhaseParsing, PhaseMapping, PhaseRendering}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return slices.Contains(Phases, p)
}

// Measurement is one recorded phase. Read-only once recorded.
type Measurement struct {
	Seq          uint64             `json:"seq"`
	Phase        Phase              `json:"phase"`
	Start        time.Time          `json:"start"`
	End          time.Time          `json:"end"`
	DurationMs   float64            `json:"duration_ms"`
	ServerTiming map[string]float64 `json:"server_timing,omitempty"`
}

// Collector is a lock-free ring of measurements. Writers claim a slot with an
// atomic counter and publish with a compare-and-swap that never replaces a newer
// measurement, so concurrent Record calls never wait on each other or on
// readers. Readers see an eventually consistent snapshot.
type Collector struct {
	slots []atomic.Pointer[Measurement]
	next  atomic.Uint64
}

// NewCollector returns a collector holding at most capacity measurements.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Collector{slots: make([]atomic.Pointer[Measurement], capacity)}
}

// Capacity returns the buffer size.
func (c *Collector) Capacity() int {
	if c == nil {
		return 0
	}
	return len(c.slots)
}

// Record appends a measurement, evicting the oldest when the buffer is full.
func (c *Collector) Record(phase Phase, start, end time.Time, serverTiming map[string]float64) {
	if c == nil || len(c.slots) == 0 || !phase.Valid() {
		return
	}
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	m := &Measurement{
		Phase:        phase,
		Start:        start,
		End:          end,
		DurationMs:   float64(d) / float64(time.Millisecond),
		ServerTiming: maps.Clone(serverTiming),
	}
	m.Seq = c.next.Add(1)
	c.publish(m)
}

// publish stores m in its slot unless a writer that claimed the slot later
// already filled it.
func (c *Collector) publish(m *Measurement) {
	slot := &c.slots[(m.Seq-1)%uint64(len(c.slots))]
	for {
		cur := slot.Load()
		if cur != nil && cur.Seq > m.Seq {
			return
		}
		if slot.CompareAndSwap(cur, m) {
			return
		}
	}
}

// Observe records phase from start until now.
func (c *Collector) Observe(phase Phase, start time.Time) {
	c.Record(phase, start, time.Now(), nil)
}

// All returns buffered measurements, oldest first.
func (c *Collector) All() []Measurement {
	if c == nil {
		return nil
	}
	out := make([]Measurement, 0, len(c.slots))
	for i := range c.slots {
		if m := c.slots[i].Load(); m != nil {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Measurement) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Clear drops every buffered measurement.
func (c *Collector) Clear() {
	if c == nil {
		return
	}
	for i := range c.slots {
		c.slots[i].Store(nil)
	}
}

// Stats computes statistics for phase over the current buffer.
func (c *Collector) Stats(phase Phase) PhaseStats {
	return ComputeStats(c.All(), phase)
}

// Summary computes statistics for every phase over one snapshot of the buffer.
func (c *Collector) Summary() []PhaseStats {
	return Summarize(c.All())
}

// Bottleneck returns the phase with the largest share of buffered time.
func (c *Collector) Bottleneck() (Phase, bool) {
	return Bottleneck(c.All())
}
