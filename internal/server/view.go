package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-safety/internal/entity"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
)

// Scanner is what the transports need from the pipeline.
type Scanner interface {
	Submit(ctx context.Context, req pipeline.ScanRequest) (uuid.UUID, error)
	GetJob(ctx context.Context, id uuid.UUID) (entity.ScanJob, error)
}

// JobView is the wire shape of a job snapshot on every transport.
type JobView struct {
	entity.ScanJob
	ServerTiming string `json:"server_timing,omitempty"`
}

func newJobView(job entity.ScanJob) JobView {
	return JobView{ScanJob: job, ServerTiming: metrics.FormatServerTiming(stageTimings(job)...)}
}

// stageTimings reports how long after creation each delivered stage landed.
func stageTimings(job entity.ScanJob) []metrics.TimingEntry {
	var out []metrics.TimingEntry
	if job.PartialAt != nil {
		out = append(out, metrics.TimingEntry{Name: "partial", DurationMs: sinceCreated(job, *job.PartialAt)})
	}
	if job.FinalAt != nil {
		out = append(out, metrics.TimingEntry{Name: "final", DurationMs: sinceCreated(job, *job.FinalAt)})
	}
	return out
}

func sinceCreated(job entity.ScanJob, at time.Time) float64 {
	d := at.Sub(job.CreatedAt)
	if d < 0 {
		d = 0
	}
	return float64(d.Microseconds()) / 1000
}

// MetricsView is the wire shape of the collector summary.
type MetricsView struct {
	Count      int                  `json:"count"`
	Capacity   int                  `json:"capacity"`
	Phases     []metrics.PhaseStats `json:"phases"`
	Bottleneck metrics.Phase        `json:"bottleneck,omitempty"`
}

func newMetricsView(c *metrics.Collector) MetricsView {
	ms := c.All()
	v := MetricsView{Count: len(ms), Capacity: c.Capacity(), Phases: metrics.Summarize(ms)}
	if p, ok := metrics.Bottleneck(ms); ok {
		v.Bottleneck = p
	}
	return v
}
