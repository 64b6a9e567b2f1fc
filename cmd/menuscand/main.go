package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/async"
	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/jobs"
	"github.com/joseph-ayodele/menu-safety/internal/llm"
	"github.com/joseph-ayodele/menu-safety/internal/llm/openai"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
	"github.com/joseph-ayodele/menu-safety/internal/optimizer"
	"github.com/joseph-ayodele/menu-safety/internal/pipeline"
	"github.com/joseph-ayodele/menu-safety/internal/ratelimit"
	"github.com/joseph-ayodele/menu-safety/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer st.close()

	store := jobs.NewStore(st.backend,
		jobs.WithTTL(cfg.Store.JobTTL),
		jobs.WithTombstoneGrace(cfg.Store.TombstoneGrace),
		jobs.WithLogger(logger),
	)
	go store.RunSweeper(ctx, cfg.Store.SweepInterval)

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Language,
		TessdataDir:         cfg.OCR.TessdataDir,
		PSM:                 cfg.OCR.PSM,
		EnableTSVConfidence: true,
	}, logger)

	var analyzer llm.Analyzer = llm.KeywordAnalyzer{}
	if cfg.LLM.Provider == common.ProviderOpenAI {
		analyzer = openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	}
	logger.Info("analyzer selected", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	protected := cfg.Budget.Protected
	if len(protected) == 0 {
		protected = constants.DefaultProtectedKeywords()
	}
	opt := optimizer.New(optimizer.TokenBudget{
		MaxItems:          cfg.Budget.MaxItems,
		ProtectedKeywords: protected,
		SynonymMap:        constants.DefaultSynonymMap(),
		Priority:          optimizer.ParsePriority(cfg.Budget.Priority),
	})

	inbox, err := pipeline.OpenInbox(cfg.Scan.InboxDir)
	if err != nil {
		logger.Error("failed to open scan inbox", "dir", cfg.Scan.InboxDir, "error", err)
		os.Exit(1)
	}
	logger.Info("scan inbox ready", "dir", inbox.Dir())

	queue := async.NewWorkerPool(logger,
		async.WithWorkers(cfg.Scan.Workers),
		async.WithQueueSize(cfg.Scan.QueueSize),
		async.WithProcessTimeout(cfg.Scan.Timeout),
	)
	collector := metrics.NewCollector(cfg.Metrics.Capacity)
	limiter := ratelimit.New(cfg.Scan.RateLimitPerMin, time.Minute)
	go housekeeping(ctx, limiter, st.purge, logger)

	ctrl, err := pipeline.NewController(pipeline.Deps{
		Store:           store,
		OCR:             extractor,
		Profiles:        st.profiles,
		Analyzer:        analyzer,
		Persister:       st.persister,
		Queue:           queue,
		Optimizer:       opt,
		Metrics:         collector,
		Limiter:         limiter,
		Logger:          logger,
		Inbox:           inbox,
		DefaultLanguage: cfg.Scan.DefaultLanguage,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// gRPC server
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.UnaryRequestContext(logger)),
		grpc.MaxRecvMsgSize(server.MaxMessageBytes),
	)
	server.RegisterScanServiceServer(grpcServer, server.NewScanService(ctrl, collector, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ScanServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	logger.Info("menu-safety grpc listening", "addr", cfg.Server.GRPCAddr, "store", cfg.Store.Backend)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           server.NewHTTPServer(ctrl, collector, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("menu-safety http listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

// housekeeping drops idle rate-limit buckets and TTL-expired storage rows.
func housekeeping(ctx context.Context, l *ratelimit.Limiter, purge func(context.Context) (int64, error), logger *slog.Logger) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Prune(); n > 0 {
				logger.Debug("ratelimit.pruned", "buckets", n)
			}
			if purge == nil {
				continue
			}
			if n, err := purge(ctx); err != nil {
				logger.Warn("storage.purge.failed", "error", err)
			} else if n > 0 {
				logger.Debug("storage.purged", "rows", n)
			}
		}
	}
}
