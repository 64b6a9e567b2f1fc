package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
)

// ScanService implements ScanServiceServer on top of the pipeline.
type ScanService struct {
	scanner Scanner
	metrics *metrics.Collector
	logger  *slog.Logger
}

var _ ScanServiceServer = (*ScanService)(nil)

func NewScanService(scanner Scanner, collector *metrics.Collector, logger *slog.Logger) *ScanService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanService{scanner: scanner, metrics: collector, logger: logger}
}

// StartScan takes a ScanRequest-shaped struct and answers {"job_id": ...}.
func (s *ScanService) StartScan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req pipeline.ScanRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, common.InvalidArgumentErrorf("malformed scan request: %v", err)
	}
	if req.UserID == "" {
		req.UserID = common.UserIDFromContext(ctx)
	}
	id, err := s.scanner.Submit(ctx, req)
	if err != nil {
		s.logger.Warn("grpc.start_scan.failed", "req_id", common.RequestIDFromContext(ctx), "error", err)
		return nil, common.ToStatus(err)
	}
	return ToStruct(map[string]string{"job_id": id.String()})
}

// GetJob takes {"job_id": ...} and answers a JobView.
func (s *ScanService) GetJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := strings.TrimSpace(in.GetFields()["job_id"].GetStringValue())
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, common.InvalidArgumentError("job_id must be a UUID")
	}
	job, err := s.scanner.GetJob(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return ToStruct(newJobView(job))
}

// GetMetrics answers the server-side phase summary.
func (s *ScanService) GetMetrics(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(newMetricsView(s.metrics))
}
