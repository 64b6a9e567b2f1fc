package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/menu-safety/internal/export"
	"github.com/joseph-ayodele/menu-safety/internal/llm"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
	"github.com/joseph-ayodele/menu-safety/internal/server"
)

func dial(opts *globalOptions) (*grpc.ClientConn, *server.ScanServiceClient, error) {
	cc, err := grpc.NewClient(opts.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", opts.grpcAddr, err)
	}
	return cc, server.NewScanServiceClient(cc), nil
}

func outgoing(ctx context.Context, opts *globalOptions) context.Context {
	if opts.userID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "x-user-id", opts.userID)
}

// ScanCmd submits menus and measures each client-side phase of the round trip.
func ScanCmd(opts *globalOptions) *cobra.Command {
	var (
		image     string
		imagePath string
		textFile  string
		allergies []string
		language  string
		runs      int
		poll      time.Duration
		timeout   time.Duration
		xlsxPath  string
		capacity  int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Submit a menu, wait for the final verdict and report phase timings",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.ScanRequest{UserID: opts.userID, ImagePath: imagePath, Allergies: allergies, Language: language}
			if image != "" {
				raw, err := os.ReadFile(image)
				if err != nil {
					return fmt.Errorf("read menu photo: %w", err)
				}
				req.Image = raw
			}
			if textFile != "" {
				raw, err := os.ReadFile(textFile)
				if err != nil {
					return fmt.Errorf("read menu text: %w", err)
				}
				req.MenuText = string(raw)
			}
			if err := req.Validate(); err != nil {
				return err
			}

			cc, client, err := dial(opts)
			if err != nil {
				return err
			}
			defer cc.Close()

			b := &bench{
				client:    client,
				http:      &http.Client{Timeout: 30 * time.Second},
				baseURL:   strings.TrimRight(opts.httpAddr, "/"),
				collector: metrics.NewCollector(capacity),
				poll:      poll,
				out:       cmd.OutOrStdout(),
			}
			for i := 0; i < runs; i++ {
				ctx, cancel := context.WithTimeout(outgoing(cmd.Context(), opts), timeout)
				view, err := b.run(ctx, req)
				cancel()
				if err != nil {
					return fmt.Errorf("run %d: %w", i+1, err)
				}
				fmt.Fprintf(b.out, "run %d: job %s %s (server timing: %s)\n", i+1, view.ID, view.Status, view.ServerTiming)
			}

			printStats(b.out, b.collector)
			if xlsxPath != "" {
				data, err := export.NewService(nil).MetricsXLSX(cmd.Context(), b.collector.All())
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("write xlsx: %w", err)
				}
				fmt.Fprintf(b.out, "wrote %s\n", xlsxPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "local menu photo, uploaded with the request")
	cmd.Flags().StringVar(&imagePath, "image-path", "", "menu photo already in the daemon's scan inbox")
	cmd.Flags().StringVar(&textFile, "text-file", "", "local file with menu text")
	cmd.Flags().StringSliceVar(&allergies, "allergy", nil, "declared allergy (repeatable)")
	cmd.Flags().StringVar(&language, "language", "", "response language (daemon default when empty)")
	cmd.Flags().IntVar(&runs, "runs", 1, "number of scans to submit")
	cmd.Flags().DurationVar(&poll, "poll", 200*time.Millisecond, "job poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-run deadline")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write the measurements to this XLSX file")
	cmd.Flags().IntVar(&capacity, "capacity", metrics.DefaultCapacity, "measurements kept in memory")
	return cmd
}

// MetricsCmd prints the daemon's server-side phase summary.
func MetricsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show the daemon's phase statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, client, err := dial(opts)
			if err != nil {
				return err
			}
			defer cc.Close()

			out, err := client.GetMetrics(outgoing(cmd.Context(), opts), &structpb.Struct{})
			if err != nil {
				return err
			}
			var mv server.MetricsView
			if err := server.FromStruct(out, &mv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d measurements buffered\n", mv.Count, mv.Capacity)
			writeStatsTable(cmd.OutOrStdout(), mv.Phases, mv.Bottleneck)
			return nil
		},
	}
}

type bench struct {
	client    *server.ScanServiceClient
	http      *http.Client
	baseURL   string
	collector *metrics.Collector
	poll      time.Duration
	out       io.Writer
}

// run submits req over gRPC and polls the HTTP job endpoint until the job is
// terminal. The last poll's phases carry the parsed Server-Timing header.
func (b *bench) run(ctx context.Context, req pipeline.ScanRequest) (server.JobView, error) {
	in, err := server.ToStruct(req)
	if err != nil {
		return server.JobView{}, err
	}
	start := time.Now()
	resp, err := b.client.StartScan(ctx, in)
	if err != nil {
		return server.JobView{}, err
	}
	b.collector.Observe(metrics.PhaseUpload, start)
	id := resp.GetFields()["job_id"].GetStringValue()

	t := time.NewTicker(b.poll)
	defer t.Stop()
	for {
		view, err := b.fetch(ctx, id)
		if err != nil {
			return server.JobView{}, err
		}
		if view.Status.IsTerminal() {
			renderStart := time.Now()
			fmt.Fprintf(b.out, "  %s\n", summarize(view))
			b.collector.Observe(metrics.PhaseRendering, renderStart)
			return view, nil
		}
		select {
		case <-ctx.Done():
			return server.JobView{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (b *bench) fetch(ctx context.Context, id string) (server.JobView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/jobs/"+id, nil)
	if err != nil {
		return server.JobView{}, err
	}
	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		return server.JobView{}, err
	}
	defer resp.Body.Close()
	headersAt := time.Now()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return server.JobView{}, fmt.Errorf("read job: %w", err)
	}
	bodyAt := time.Now()
	if resp.StatusCode != http.StatusOK {
		return server.JobView{}, fmt.Errorf("get job: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var view server.JobView
	if err := json.Unmarshal(body, &view); err != nil {
		return server.JobView{}, fmt.Errorf("decode job: %w", err)
	}
	parsedAt := time.Now()

	timing := metrics.ParseServerTiming(resp.Header.Get("Server-Timing"))
	b.collector.Record(metrics.PhaseTTFB, start, headersAt, timing)
	b.collector.Record(metrics.PhaseDownload, headersAt, bodyAt, nil)
	b.collector.Record(metrics.PhaseParsing, bodyAt, parsedAt, nil)
	b.collector.Observe(metrics.PhaseMapping, parsedAt)
	return view, nil
}

func summarize(view server.JobView) string {
	if len(view.FinalResult) == 0 {
		return string(view.Status) + " " + view.FailureReason
	}
	var final pipeline.FinalResult
	if err := json.Unmarshal(view.FinalResult, &final); err != nil {
		return "unreadable final result: " + err.Error()
	}
	var parts []string
	for _, it := range final.Items {
		if it.Status != llm.StatusSafe {
			parts = append(parts, fmt.Sprintf("%s=%s", it.Name, it.Status))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d items, none flagged", len(final.Items))
	}
	return fmt.Sprintf("%d items: %s", len(final.Items), strings.Join(parts, "; "))
}

func printStats(w io.Writer, c *metrics.Collector) {
	worst, _ := c.Bottleneck()
	writeStatsTable(w, c.Summary(), worst)
}

func writeStatsTable(w io.Writer, stats []metrics.PhaseStats, worst metrics.Phase) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no measurements")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tCOUNT\tP50\tP95\tMAX\tMEAN\tSHARE\t")
	for _, st := range stats {
		mark := ""
		if st.Phase == worst {
			mark = "<- bottleneck"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.0f%%\t%s\n",
			st.Phase, st.Count, st.P50, st.P95, st.Max, st.Mean, st.Share*100, mark)
	}
	if err := tw.Flush(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		fmt.Fprintln(w, "error:", err)
	}
}
