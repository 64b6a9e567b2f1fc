package export

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/menu-safety/internal/metrics"
)

const (
	SheetMeasurements = "Measurements"
	SheetSummary      = "Summary"
)

// Service turns collected phase measurements into an XLSX workbook.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// MetricsXLSX returns a workbook with one row per measurement and a per-phase
// summary sheet. The bottleneck phase is marked in the summary.
func (s *Service) MetricsXLSX(ctx context.Context, ms []metrics.Measurement) ([]byte, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// NewFile starts with "Sheet1"; rename it rather than leave an empty sheet behind.
	if err := f.SetSheetName("Sheet1", SheetMeasurements); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	if err := writeMeasurements(f, ms); err != nil {
		return nil, err
	}
	if err := writeSummary(f, ms); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(SheetSummary)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(ms),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeMeasurements(f *excelize.File, ms []metrics.Measurement) error {
	headers := []any{"Seq", "Phase", "Start", "End", "Duration (ms)", "Server-Timing"}
	if err := f.SetSheetRow(SheetMeasurements, "A1", &headers); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, m := range ms {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			m.Seq,
			string(m.Phase),
			m.Start.UTC().Format(time.RFC3339Nano),
			m.End.UTC().Format(time.RFC3339Nano),
			m.DurationMs,
			formatTiming(m.ServerTiming),
		}
		if err := f.SetSheetRow(SheetMeasurements, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(SheetMeasurements, "A", "B", 10)
	_ = f.SetColWidth(SheetMeasurements, "C", "D", 32)
	_ = f.SetColWidth(SheetMeasurements, "E", "E", 14)
	_ = f.SetColWidth(SheetMeasurements, "F", "F", 40)
	return nil
}

func writeSummary(f *excelize.File, ms []metrics.Measurement) error {
	headers := []any{"Phase", "Count", "P50 (ms)", "P95 (ms)", "Max (ms)", "Mean (ms)", "Share", "Bottleneck"}
	if err := f.SetSheetRow(SheetSummary, "A1", &headers); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	worst, hasWorst := metrics.Bottleneck(ms)
	for i, st := range metrics.Summarize(ms) {
		mark := ""
		if hasWorst && st.Phase == worst {
			mark = "yes"
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{string(st.Phase), st.Count, st.P50, st.P95, st.Max, st.Mean, st.Share, mark}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 12)
	_ = f.SetColWidth(SheetSummary, "B", "H", 12)
	return nil
}

// formatTiming renders a server timing map in a stable order.
func formatTiming(st map[string]float64) string {
	if len(st) == 0 {
		return ""
	}
	names := make([]string, 0, len(st))
	for k := range st {
		names = append(names, k)
	}
	slices.Sort(names)
	entries := make([]metrics.TimingEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, metrics.TimingEntry{Name: n, DurationMs: st[n]})
	}
	return strings.TrimSpace(metrics.FormatServerTiming(entries...))
}
