package metrics

import (
	"math"
	"slices"
)

// PhaseStats summarizes one phase.
type PhaseStats struct {
	Phase Phase   `json:"phase"`
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	Max   float64 `json:"max_ms"`
	Mean  float64 `json:"mean_ms"`
	// Share is Mean over the sum of every phase's Mean (0 when unknown).
	Share float64 `json:"share"`
}

// ComputeStats summarizes phase over ms. Percentiles use the nearest-rank method.
func ComputeStats(ms []Measurement, phase Phase) PhaseStats {
	st := PhaseStats{Phase: phase}
	var durations []float64
	for _, m := range ms {
		if m.Phase == phase {
			durations = append(durations, m.DurationMs)
		}
	}
	if len(durations) == 0 {
		return st
	}
	slices.Sort(durations)

	var sum float64
	for _, d := range durations {
		sum += d
	}
	st.Count = len(durations)
	st.Mean = sum / float64(len(durations))
	st.Max = durations[len(durations)-1]
	st.P50 = nearestRank(durations, 50)
	st.P95 = nearestRank(durations, 95)
	return st
}

// Summarize returns stats for every phase that has samples, with Share filled in.
func Summarize(ms []Measurement) []PhaseStats {
	out := make([]PhaseStats, 0, len(Phases))
	var total float64
	for _, p := range Phases {
		st := ComputeStats(ms, p)
		if st.Count == 0 {
			continue
		}
		total += st.Mean
		out = append(out, st)
	}
	if total > 0 {
		for i := range out {
			out[i].Share = out[i].Mean / total
		}
	}
	return out
}

// Bottleneck picks the phase whose mean duration is the largest share of the
// summed phase means. Ties go to the phase measured most recently.
func Bottleneck(ms []Measurement) (Phase, bool) {
	lastSeen := make(map[Phase]uint64, len(Phases))
	for _, m := range ms {
		if m.Seq >= lastSeen[m.Phase] {
			lastSeen[m.Phase] = m.Seq
		}
	}

	var (
		best     Phase
		bestMean = -1.0
		found    bool
	)
	for _, st := range Summarize(ms) {
		switch {
		case st.Mean > bestMean:
		case st.Mean == bestMean && lastSeen[st.Phase] > lastSeen[best]:
		default:
			continue
		}
		best, bestMean, found = st.Phase, st.Mean, true
	}
	return best, found
}

func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
