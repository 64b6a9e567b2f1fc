package metrics

import (
	"sync"
	"testing"
	"time"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestCollector_RecordAndEvict(t *testing.T) {
	c := NewCollector(3)
	base := time.Unix(1700000000, 0)
	for i := 1; i <= 5; i++ {
		c.Record(PhaseDownload, base, base.Add(ms(i*10)), nil)
	}
	all := c.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 buffered measurements, got %d", len(all))
	}
	want := []float64{30, 40, 50}
	for i, m := range all {
		if m.DurationMs != want[i] {
			t.Errorf("measurement %d: duration %v, want %v", i, m.DurationMs, want[i])
		}
	}
}

func TestCollector_LateWriterKeepsNewerSlot(t *testing.T) {
	c := NewCollector(2)
	base := time.Unix(1700000000, 0)
	// seq 1 and seq 3 share slot 0; seq 1 finishing last must not win.
	c.publish(&Measurement{Seq: 3, Phase: PhaseParsing, Start: base, End: base.Add(ms(30)), DurationMs: 30})
	c.publish(&Measurement{Seq: 1, Phase: PhaseParsing, Start: base, End: base.Add(ms(10)), DurationMs: 10})

	all := c.All()
	if len(all) != 1 || all[0].Seq != 3 {
		t.Fatalf("slot holds %+v, want only seq 3", all)
	}

	c.publish(&Measurement{Seq: 5, Phase: PhaseParsing, Start: base, End: base.Add(ms(50)), DurationMs: 50})
	if all := c.All(); len(all) != 1 || all[0].Seq != 5 {
		t.Errorf("newer writer did not replace the slot: %+v", all)
	}
}

func TestCollector_NoOps(t *testing.T) {
	var nilCollector *Collector
	nilCollector.Record(PhaseUpload, time.Now(), time.Now(), nil)
	if got := nilCollector.All(); got != nil {
		t.Errorf("nil collector returned %v", got)
	}
	if _, ok := nilCollector.Bottleneck(); ok {
		t.Error("nil collector reported a bottleneck")
	}

	c := NewCollector(4)
	c.Record(Phase("warp"), time.Now(), time.Now(), nil)
	if n := len(c.All()); n != 0 {
		t.Errorf("unknown phase was recorded (%d measurements)", n)
	}

	// reversed clocks clamp to zero instead of failing
	now := time.Now()
	c.Record(PhaseParsing, now, now.Add(-time.Second), nil)
	if got := c.All()[0].DurationMs; got != 0 {
		t.Errorf("negative duration recorded as %v", got)
	}

	c.Clear()
	if n := len(c.All()); n != 0 {
		t.Errorf("clear left %d measurements", n)
	}
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	c := NewCollector(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				now := time.Now()
				c.Record(PhaseMapping, now, now.Add(ms(1)), nil)
				_ = c.All()
			}
		}()
	}
	wg.Wait()
	if n := len(c.All()); n != 64 {
		t.Errorf("expected a full buffer of 64, got %d", n)
	}
}

func TestStats_NearestRank(t *testing.T) {
	c := NewCollector(32)
	base := time.Unix(0, 0)
	for i := 1; i <= 20; i++ {
		c.Record(PhaseTTFB, base, base.Add(ms(i)), nil)
	}
	st := c.Stats(PhaseTTFB)
	if st.Count != 20 {
		t.Fatalf("count = %d", st.Count)
	}
	if st.P50 != 10 || st.P95 != 19 || st.Max != 20 {
		t.Errorf("p50=%v p95=%v max=%v, want 10/19/20", st.P50, st.P95, st.Max)
	}
	if st.Mean != 10.5 {
		t.Errorf("mean = %v, want 10.5", st.Mean)
	}
	if empty := c.Stats(PhaseUpload); empty.Count != 0 || empty.P95 != 0 {
		t.Errorf("empty phase stats = %+v", empty)
	}
}

func TestBottleneck(t *testing.T) {
	base := time.Unix(0, 0)
	c := NewCollector(16)
	c.Record(PhaseUpload, base, base.Add(ms(100)), nil)
	c.Record(PhaseDownload, base, base.Add(ms(900)), nil)
	c.Record(PhaseRendering, base, base.Add(ms(50)), nil)

	p, ok := c.Bottleneck()
	if !ok || p != PhaseDownload {
		t.Errorf("bottleneck = %q (%v), want download", p, ok)
	}

	var share float64
	for _, st := range c.Summary() {
		share += st.Share
	}
	if share < 0.999 || share > 1.001 {
		t.Errorf("shares sum to %v", share)
	}

	tie := NewCollector(4)
	tie.Record(PhaseParsing, base, base.Add(ms(10)), nil)
	tie.Record(PhaseMapping, base, base.Add(ms(10)), nil)
	if p, _ := tie.Bottleneck(); p != PhaseMapping {
		t.Errorf("tie should go to the most recent phase, got %q", p)
	}

	if _, ok := NewCollector(4).Bottleneck(); ok {
		t.Error("empty collector reported a bottleneck")
	}
}

func TestParseServerTiming(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   map[string]float64
	}{
		{"two entries", "ocr;dur=8000, llm;dur=12000", map[string]float64{"ocr": 8000, "llm": 12000}},
		{"fractional and desc", `db;desc="primary";dur=1.5`, map[string]float64{"db": 1.5}},
		{"malformed segments skipped", "ocr;dur=abc, ;dur=3, llm;dur=7, cache", map[string]float64{"llm": 7}},
		{"negative rejected", "a;dur=-1,b;dur=2", map[string]float64{"b": 2}},
		{"first duplicate wins", "a;dur=1, a;dur=2", map[string]float64{"a": 1}},
		{"empty", "", map[string]float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseServerTiming(tt.header)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestFormatServerTiming(t *testing.T) {
	got := FormatServerTiming(
		TimingEntry{Name: "partial", DurationMs: 1200},
		TimingEntry{Name: "final", DurationMs: 8000.5},
		TimingEntry{Name: "", DurationMs: 1},
	)
	if got != "partial;dur=1200, final;dur=8000.5" {
		t.Errorf("got %q", got)
	}
	back := ParseServerTiming(got)
	if back["partial"] != 1200 || back["final"] != 8000.5 {
		t.Errorf("formatted header does not parse back: %v", back)
	}
}
