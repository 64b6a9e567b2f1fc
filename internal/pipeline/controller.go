// Package pipeline drives a scan job from submission to its terminal state.
//
// Run forks the OCR stage and the profile lookup, publishes the quick verdict
// as the job's partial result as soon as OCR is done, then bounds the term
// list, asks the analyzer for a verdict and stores it as the final result.
// Persistence happens at most once per job, gated by Store.MarkPersisted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/menu-safety/constants"
	"github.com/joseph-ayodele/menu-safety/internal/async"
	"github.com/joseph-ayodele/menu-safety/internal/common"
	"github.com/joseph-ayodele/menu-safety/internal/entity"
	"github.com/joseph-ayodele/menu-safety/internal/llm"
	"github.com/joseph-ayodele/menu-safety/internal/metrics"
	"github.com/joseph-ayodele/menu-safety/internal/ocr"
	"github.com/joseph-ayodele/menu-safety/internal/optimizer"
	"github.com/joseph-ayodele/menu-safety/internal/ratelimit"
)

// detachedTimeout bounds store writes that must outlive a cancelled run.
const detachedTimeout = 5 * time.Second

// Deps are the collaborators of a Controller. Store, OCR, Analyzer and Queue are
// required; the rest may be nil.
type Deps struct {
	Store     JobStore
	OCR       TextExtractor
	Profiles  ContextFetcher
	Analyzer  llm.Analyzer
	Persister Persister
	Queue     async.Queue
	Optimizer *optimizer.Optimizer
	Metrics   *metrics.Collector
	Limiter   *ratelimit.Limiter
	Logger    *slog.Logger

	// Inbox confines image paths and holds uploads; nil opens the default inbox.
	Inbox *Inbox

	// DefaultLanguage is used when neither the request nor the profile names one.
	DefaultLanguage string
}

// Controller owns the scan lifecycle.
type Controller struct {
	store     JobStore
	ocr       TextExtractor
	profiles  ContextFetcher
	analyzer  llm.Analyzer
	persister Persister
	queue     async.Queue
	optimizer *optimizer.Optimizer
	metrics   *metrics.Collector
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	inbox     *Inbox
	language  string
	now       func() time.Time
}

func NewController(d Deps) (*Controller, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case d.OCR == nil:
		return nil, errors.New("pipeline: ocr extractor is required")
	case d.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer is required")
	case d.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Optimizer == nil {
		d.Optimizer = optimizer.New(optimizer.TokenBudget{
			MaxItems:          60,
			ProtectedKeywords: constants.DefaultProtectedKeywords(),
			SynonymMap:        constants.DefaultSynonymMap(),
		})
	}
	if d.DefaultLanguage == "" {
		d.DefaultLanguage = "en"
	}
	if d.Inbox == nil {
		inbox, err := OpenInbox("")
		if err != nil {
			return nil, err
		}
		d.Inbox = inbox
	}
	return &Controller{
		store:     d.Store,
		ocr:       d.OCR,
		profiles:  d.Profiles,
		analyzer:  d.Analyzer,
		persister: d.Persister,
		queue:     d.Queue,
		optimizer: d.Optimizer,
		metrics:   d.Metrics,
		limiter:   d.Limiter,
		logger:    d.Logger,
		inbox:     d.Inbox,
		language:  d.DefaultLanguage,
		now:       time.Now,
	}, nil
}

// Validate checks a request before any job is created.
func (r ScanRequest) Validate() error {
	hasUpload := len(r.Image) > 0
	hasPath := strings.TrimSpace(r.ImagePath) != ""
	hasText := strings.TrimSpace(r.MenuText) != ""
	set := 0
	for _, b := range []bool{hasUpload, hasPath, hasText} {
		if b {
			set++
		}
	}
	switch {
	case set > 1:
		return common.NewAppError("INVALID_SCAN", "set only one of image, image_path and menu_text", common.ErrInvalidInput)
	case set == 0:
		return common.NewAppError("INVALID_SCAN", "image, image_path or menu_text is required", common.ErrInvalidInput)
	case hasUpload && len(r.Image) > MaxImageBytes:
		return common.NewAppError("INVALID_SCAN", fmt.Sprintf("image exceeds %d bytes", MaxImageBytes), common.ErrInvalidInput)
	case hasPath && !constants.IsImageExt(filepath.Ext(r.ImagePath)):
		return common.NewAppError("INVALID_SCAN", "unsupported image type "+filepath.Ext(r.ImagePath), common.ErrInvalidInput)
	}
	if hasUpload {
		if _, err := imageExt(r.Image); err != nil {
			return err
		}
	}
	return nil
}

// Submit validates req, creates a PENDING job and queues its run. The job id is
// returned as soon as the run is queued. Image paths are confined to the inbox
// and uploads are staged there until the run ends.
func (c *Controller) Submit(ctx context.Context, req ScanRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}
	if !c.limiter.Allow(req.UserID) {
		c.logger.Warn("pipeline.submit.rate_limited", "user_id", req.UserID)
		return uuid.Nil, common.NewAppError("RATE_LIMITED", "too many scans, retry later", common.ErrRateLimited)
	}
	source := req.source()
	req, cleanup, err := c.stage(req)
	if err != nil {
		c.logger.Warn("pipeline.submit.rejected", "user_id", req.UserID, "source", source, "error", err)
		return uuid.Nil, err
	}

	id, err := c.store.CreateJob(ctx)
	if err != nil {
		cleanup()
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	task := async.Task{
		JobID:       id,
		SubmittedAt: c.now(),
		Run: func(ctx context.Context) error {
			defer cleanup()
			return c.Run(ctx, id, req)
		},
	}
	if err := c.queue.Enqueue(ctx, task); err != nil {
		cleanup()
		c.fail(ctx, id, "enqueue: "+err.Error())
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}
	c.logger.Info("pipeline.submit.ok", "job_id", id, "user_id", req.UserID, "source", source)
	return id, nil
}

// stage rewrites req so ImagePath is an inbox file. The returned cleanup removes
// an uploaded photo and is a no-op otherwise.
func (c *Controller) stage(req ScanRequest) (ScanRequest, func(), error) {
	noop := func() {}
	switch {
	case len(req.Image) > 0:
		path, err := c.inbox.Store(req.Image)
		if err != nil {
			return req, noop, err
		}
		req.Image = nil
		req.ImagePath = path
		return req, func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				c.logger.Warn("pipeline.upload.cleanup_failed", "path", path, "error", err)
			}
		}, nil
	case req.ImagePath != "":
		path, err := c.inbox.Resolve(req.ImagePath)
		if err != nil {
			return req, noop, err
		}
		req.ImagePath = path
	}
	return req, noop, nil
}

// GetJob returns a snapshot of the job.
func (c *Controller) GetJob(ctx context.Context, id uuid.UUID) (entity.ScanJob, error) {
	return c.store.GetJob(ctx, id)
}

// Run executes one scan. Any failure, or ctx ending before the final result is
// stored, moves the job to FAILED. Late results from abandoned stages are
// rejected by the store because the job is already terminal. req.ImagePath is
// opened as given; Submit is what confines it to the inbox.
func (c *Controller) Run(ctx context.Context, id uuid.UUID, req ScanRequest) error {
	start := c.now()
	c.logger.Info("pipeline.run.start", "job_id", id, "user_id", req.UserID)

	err := c.run(ctx, id, req, start)
	if err != nil {
		reason := err.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			reason = "abandoned: " + ctxErr.Error()
		}
		c.logger.Error("pipeline.run.failed",
			"job_id", id, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		c.fail(ctx, id, reason)
		return err
	}
	c.logger.Info("pipeline.run.done", "job_id", id, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Controller) run(ctx context.Context, id uuid.UUID, req ScanRequest, start time.Time) error {
	var (
		text ocr.Result
		uc   entity.UserContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := c.extract(gctx, req)
		if err != nil {
			return fmt.Errorf("ocr: %w", err)
		}
		text = res
		return c.publishPartial(gctx, id, res, start)
	})
	g.Go(func() error {
		var err error
		uc, err = c.fetchContext(gctx, req.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	allergies := mergeTerms(req.Allergies, uc.Allergies)
	diets := mergeTerms(req.Diets, uc.Diets)
	language := firstNonEmpty(req.Language, uc.Language, c.language)

	mapStart := c.now()
	bounded := c.optimizer.Optimize(allergies, text.Tokens)
	c.metrics.Observe(metrics.PhaseMapping, mapStart)
	if len(bounded.Dropped) > 0 || bounded.ProtectedOverflow {
		c.logger.Warn("pipeline.optimize.truncated",
			"job_id", id,
			"dropped", len(bounded.Dropped),
			"protected_overflow", bounded.ProtectedOverflow,
		)
	}

	areq := llm.AnalyzeRequest{
		Tokens:    bounded.Bounded,
		Allergies: bounded.Allergies,
		MenuItems: bounded.Menu,
		Diets:     diets,
		Language:  language,
	}
	analyzeStart := c.now()
	raw, err := c.analyzer.Analyze(ctx, areq)
	c.metrics.Observe(metrics.PhaseDownload, analyzeStart)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	parseStart := c.now()
	verdict, err := llm.ParseVerdict(raw, c.logger)
	c.metrics.Observe(metrics.PhaseParsing, parseStart)
	if err != nil {
		return fmt.Errorf("parse verdict: %w", err)
	}

	renderStart := c.now()
	final, err := json.Marshal(renderFinal(id, verdict, bounded, areq, text.Warnings, c.now()))
	c.metrics.Observe(metrics.PhaseRendering, renderStart)
	if err != nil {
		return fmt.Errorf("render final: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.SetFinal(ctx, id, final); err != nil {
		return fmt.Errorf("set final: %w", err)
	}
	c.persist(ctx, id, final)
	return nil
}

func (c *Controller) extract(ctx context.Context, req ScanRequest) (ocr.Result, error) {
	if req.MenuText != "" {
		return ocr.FromText(req.MenuText)
	}
	return c.ocr.Extract(ctx, req.ImagePath)
}

// publishPartial stores the quick verdict. A store outage only costs the early
// result; a rejected transition means the job is already terminal and the run
// is abandoned.
func (c *Controller) publishPartial(ctx context.Context, id uuid.UUID, res ocr.Result, start time.Time) error {
	partial, err := json.Marshal(renderPartial(res))
	if err != nil {
		return fmt.Errorf("render partial: %w", err)
	}
	err = c.store.SetPartial(ctx, id, partial)
	switch {
	case err == nil:
		c.metrics.Observe(metrics.PhaseTTFB, start)
		c.logger.Info("pipeline.partial.ok", "job_id", id, "flagged", res.Quick.Flagged, "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	case errors.Is(err, common.ErrInvalidTransition):
		return fmt.Errorf("set partial: %w", err)
	default:
		c.logger.Warn("pipeline.partial.skipped", "job_id", id, "error", err)
		return nil
	}
}

func (c *Controller) fetchContext(ctx context.Context, userID string) (entity.UserContext, error) {
	if c.profiles == nil || userID == "" {
		return entity.UserContext{UserID: userID}, nil
	}
	uc, err := c.profiles.FetchContext(ctx, userID)
	if err != nil {
		return entity.UserContext{}, fmt.Errorf("fetch user context: %w", err)
	}
	return uc, nil
}

// persist flips the persisted flag and saves only when this call won the flip.
// FINAL is already committed, so it runs detached from ctx and never fails the run.
func (c *Controller) persist(ctx context.Context, id uuid.UUID, final json.RawMessage) {
	if c.persister == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	flipped, err := c.store.MarkPersisted(pctx, id)
	if err != nil {
		c.logger.Error("pipeline.persist.mark_failed", "job_id", id, "error", err)
		return
	}
	if !flipped {
		c.logger.Debug("pipeline.persist.duplicate_suppressed", "job_id", id)
		return
	}
	if err := c.persister.Save(pctx, id, final); err != nil {
		c.logger.Error("pipeline.persist.save_failed", "job_id", id, "error", err)
		return
	}
	c.logger.Info("pipeline.persist.ok", "job_id", id, "bytes", len(final))
}

func (c *Controller) fail(ctx context.Context, id uuid.UUID, reason string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	if err := c.store.Fail(fctx, id, reason); err != nil && !errors.Is(err, common.ErrInvalidTransition) {
		c.logger.Error("pipeline.fail.store_error", "job_id", id, "error", err)
	}
}

func (r ScanRequest) source() string {
	switch {
	case r.MenuText != "":
		return "text"
	case len(r.Image) > 0:
		return "upload"
	}
	return "image"
}

// mergeTerms concatenates lists, dropping blanks. Deduplication is left to the optimizer.
func mergeTerms(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, t := range l {
			if strings.TrimSpace(t) != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
