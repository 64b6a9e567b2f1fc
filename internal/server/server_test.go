package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/async"
	"github.com/joseph-ayodele/menu-safety/internal/jobs"
	"github.com/joseph-ayodele/menu-safety/internal/llm"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
)

const menuText = "Garlic Prawns 12.50\nGreen Salad 8.00\n"

// spyOCR records the paths it is asked to open and reads every photo as menuText.
type spyOCR struct {
	mu    sync.Mutex
	paths []string
}

func (s *spyOCR) Extract(_ context.Context, path string) (ocr.Result, error) {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return ocr.FromText(menuText)
}

func (s *spyOCR) opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(t *testing.T) (*pipeline.Controller, *metrics.Collector) {
	ctrl, collector, _ := newControllerWithOCR(t)
	return ctrl, collector
}

func newControllerWithOCR(t *testing.T) (*pipeline.Controller, *metrics.Collector, *spyOCR) {
	t.Helper()
	logger := quietLogger()
	inbox, err := pipeline.OpenInbox(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	spy := &spyOCR{}
	queue := async.NewWorkerPool(logger, async.WithWorkers(2))
	t.Cleanup(func() { queue.Shutdown(context.Background()) })
	collector := metrics.NewCollector(32)
	ctrl, err := pipeline.NewController(pipeline.Deps{
		Store:    jobs.NewStore(jobs.NewMemoryBackend(nil), jobs.WithLogger(logger)),
		OCR:      spy,
		Inbox:    inbox,
		Analyzer: llm.KeywordAnalyzer{},
		Queue:    queue,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ctrl, collector, spy
}

func newTestHTTP(t *testing.T) *httptest.Server {
	t.Helper()
	ctrl, collector := newController(t)
	hs := NewHTTPServer(ctrl, collector, quietLogger())
	hs.WatchInterval = 5 * time.Millisecond
	srv := httptest.NewServer(hs.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func submit(t *testing.T, base string) string {
	t.Helper()
	body, _ := json.Marshal(pipeline.ScanRequest{MenuText: menuText, Allergies: []string{"shrimp"}})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/scans", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("response is missing a request id")
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out["job_id"]
}

func TestHTTP_SubmitAndPoll(t *testing.T) {
	srv := newTestHTTP(t)
	id := submit(t, srv.URL)

	var (
		view   JobView
		timing string
	)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/v1/jobs/" + id)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
			t.Fatal(err)
		}
		timing = resp.Header.Get("Server-Timing")
		resp.Body.Close()
		if view.Status.IsTerminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if view.Status != constants.JobStatusFinal {
		t.Fatalf("status = %s (%s)", view.Status, view.FailureReason)
	}

	parsed := metrics.ParseServerTiming(timing)
	if _, ok := parsed["partial"]; !ok {
		t.Errorf("Server-Timing %q has no partial entry", timing)
	}
	if parsed["final"] < parsed["partial"] {
		t.Errorf("final before partial in %q", timing)
	}

	var final pipeline.FinalResult
	if err := json.Unmarshal(view.FinalResult, &final); err != nil {
		t.Fatal(err)
	}
	if final.Counts[llm.StatusUnsafe] != 1 {
		t.Errorf("final = %+v", final)
	}

	resp, err := http.Get(srv.URL + "/v1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var mv MetricsView
	if err := json.NewDecoder(resp.Body).Decode(&mv); err != nil {
		t.Fatal(err)
	}
	if mv.Count == 0 || mv.Bottleneck == "" {
		t.Errorf("metrics = %+v", mv)
	}
}

func TestHTTP_Errors(t *testing.T) {
	srv := newTestHTTP(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad id", http.MethodGet, "/v1/jobs/not-a-uuid", "", http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/jobs/" + uuid.NewString(), "", http.StatusNotFound},
		{"unknown watch", http.MethodGet, "/v1/jobs/" + uuid.NewString() + "/watch", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/v1/scans", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/scans", `{"menu":"x"}`, http.StatusBadRequest},
		{"nothing to scan", http.MethodPost, "/v1/scans", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHTTP_ImageSources(t *testing.T) {
	ctrl, collector, spy := newControllerWithOCR(t)
	srv := httptest.NewServer(NewHTTPServer(ctrl, collector, quietLogger()).Handler())
	t.Cleanup(srv.Close)

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+"/v1/scans", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	if resp := post(`{"user_id":"u1","image_path":"/root/../etc/private/scan.png"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("path outside the inbox: status = %d, want 400", resp.StatusCode)
	}
	if got := spy.opened(); len(got) != 0 {
		t.Fatalf("extractor opened %v for a rejected path", got)
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	body, _ := json.Marshal(pipeline.ScanRequest{UserID: "u1", Image: png, Allergies: []string{"shrimp"}})
	if resp := post(string(body)); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload: status = %d, want 202", resp.StatusCode)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(spy.opened()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := spy.opened(); len(got) != 1 || filepath.Ext(got[0]) != ".png" {
		t.Errorf("extractor opened %v, want one staged .png", got)
	}

	huge := `{"menu_text":"` + strings.Repeat("a", MaxMessageBytes) + `"}`
	if resp := post(huge); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", resp.StatusCode)
	}
}

func TestWatch_PushesUntilTerminal(t *testing.T) {
	srv := newTestHTTP(t)
	id := submit(t, srv.URL)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var last JobView
	for {
		var v JobView
		err := conn.ReadJSON(&v)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		last = v
	}
	if last.Status != constants.JobStatusFinal {
		t.Errorf("last pushed status = %s", last.Status)
	}
}

func TestGRPC_ScanService(t *testing.T) {
	ctrl, collector := newController(t)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(UnaryRequestContext(quietLogger())))
	RegisterScanServiceServer(gs, NewScanService(ctrl, collector, quietLogger()))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()
	client := NewScanServiceClient(cc)
	ctx := context.Background()

	in, _ := ToStruct(pipeline.ScanRequest{UserID: "u1", MenuText: menuText})
	out, err := client.StartScan(ctx, in)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}
	id := out.GetFields()["job_id"].GetStringValue()

	query, _ := ToStruct(map[string]string{"job_id": id})
	var view JobView
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := client.GetJob(ctx, query)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if err := FromStruct(got, &view); err != nil {
			t.Fatal(err)
		}
		if view.Status.IsTerminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if view.Status != constants.JobStatusFinal || view.ID.String() != id {
		t.Fatalf("view = %s %s", view.ID, view.Status)
	}

	missing, _ := ToStruct(map[string]string{"job_id": uuid.NewString()})
	if _, err := client.GetJob(ctx, missing); status.Code(err) != codes.NotFound {
		t.Errorf("unknown job code = %v", status.Code(err))
	}
	bad, _ := ToStruct(map[string]string{"job_id": "x"})
	if _, err := client.GetJob(ctx, bad); status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad id code = %v", status.Code(err))
	}
	empty, _ := ToStruct(pipeline.ScanRequest{UserID: "u1"})
	if _, err := client.StartScan(ctx, empty); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty scan code = %v", status.Code(err))
	}

	m, err := client.GetMetrics(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatal(err)
	}
	var mv MetricsView
	if err := FromStruct(m, &mv); err != nil {
		t.Fatal(err)
	}
	if mv.Capacity != 32 {
		t.Errorf("capacity = %d", mv.Capacity)
	}
}

func TestScanServiceDescriptorRegistered(t *testing.T) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(ScanServiceName)
	if err != nil {
		t.Fatalf("%s not in the global registry: %v", ScanServiceName, err)
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		t.Fatalf("%s is a %T", ScanServiceName, d)
	}
	if sd.ParentFile().Path() != ScanServiceDesc.Metadata {
		t.Errorf("file = %s, want %v", sd.ParentFile().Path(), ScanServiceDesc.Metadata)
	}
	if sd.Methods().Len() != len(ScanServiceDesc.Methods) {
		t.Fatalf("described %d methods, serving %d", sd.Methods().Len(), len(ScanServiceDesc.Methods))
	}
	for _, m := range ScanServiceDesc.Methods {
		md := sd.Methods().ByName(protoreflect.Name(m.MethodName))
		if md == nil {
			t.Errorf("method %s not described", m.MethodName)
			continue
		}
		if md.Input().FullName() != "google.protobuf.Struct" || md.Output().FullName() != "google.protobuf.Struct" {
			t.Errorf("%s: %s -> %s", m.MethodName, md.Input().FullName(), md.Output().FullName())
		}
	}
}
