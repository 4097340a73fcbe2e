package ingest

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/db"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
	"github.com/merchant-ops/portalsync/internal/portal"
	"github.com/merchant-ops/portalsync/internal/retry"
	"github.com/merchant-ops/portalsync/internal/session"
	"github.com/merchant-ops/portalsync/internal/upsert"
)

// RunOpts configures which portals and data kinds to ingest for a date.
type RunOpts struct {
	Date    time.Time
	Portals []string // empty = all registered portals
	Kinds   []string // empty = every kind the portal supports
	Force   bool     // re-run even when the date already succeeded
}

// PairResult is the outcome of one portal and kind for the run summary.
type PairResult struct {
	Portal      string `json:"portal"`
	Kind        string `json:"kind"`
	AttemptID   string `json:"attempt_id,omitempty"`
	Status      string `json:"status"`
	RowsWritten int64  `json:"rows_written"`
	RowsFailed  int64  `json:"rows_failed"`
	Error       string `json:"error,omitempty"`
}

// RunSummary is the end-of-run report posted to the notification webhook.
type RunSummary struct {
	Date       string       `json:"date"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Succeeded  int          `json:"succeeded"`
	Partial    int          `json:"partial"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Results    []PairResult `json:"results"`
}

type factWriter interface {
	Write(ctx context.Context, table upsert.FactTable, records []normalize.Record) (int64, error)
}

type notifier interface {
	Send(ctx context.Context, payload any) error
}

type lifecycleFunc func(ctx context.Context, ad portal.Adapter, store session.Store, date time.Time, kind string, opts portal.LifecycleOpts) (extract.Artifact, error)

// Engine orchestrates ingestion runs across all portals.
type Engine struct {
	cfg      *config.Config
	reg      *portal.Registry
	store    session.Store
	attempts *AttemptLog
	writer   factWriter
	notify   notifier

	// Injectable seams for tests.
	lifecycle lifecycleFunc
	lookups   func(ctx context.Context) (*normalize.Normalizer, error)
	extractFn func(a extract.Artifact) ([]extract.RawRow, error)
}

// NewEngine wires an engine from production dependencies.
func NewEngine(cfg *config.Config, pool db.Pool, reg *portal.Registry, store session.Store, notify notifier) *Engine {
	return &Engine{
		cfg:       cfg,
		reg:       reg,
		store:     store,
		attempts:  NewAttemptLog(pool),
		writer:    upsert.NewWriter(pool, cfg.Ingest.BatchSize),
		notify:    notify,
		lifecycle: portal.RunLifecycle,
		lookups: func(ctx context.Context) (*normalize.Normalizer, error) {
			return normalize.LoadLookups(ctx, pool)
		},
		extractFn: extract.Rows,
	}
}

// Run executes one ingestion pass and returns the summary. Individual
// portal failures are recorded and do not abort the rest of the run.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunSummary, error) {
	log := zap.L().With(zap.String("component", "ingest.engine"))

	adapters, err := e.reg.Select(opts.Portals)
	if err != nil {
		return nil, err
	}

	norm, err := e.lookups(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		Date:      opts.Date.Format("2006-01-02"),
		StartedAt: time.Now().UTC(),
	}

	for _, ad := range adapters {
		for _, kind := range selectKinds(ad, opts.Kinds) {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}

			result := e.runPair(ctx, ad, kind, norm, opts)
			summary.Results = append(summary.Results, result)
			switch result.Status {
			case StatusSuccess:
				summary.Succeeded++
			case StatusPartial:
				summary.Partial++
			case StatusFailed:
				summary.Failed++
			case "skipped":
				summary.Skipped++
			}
		}
	}
	summary.FinishedAt = time.Now().UTC()

	log.Info("run complete",
		zap.String("date", summary.Date),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)

	if e.notify != nil {
		// Notification is advisory; a dead webhook never fails the run.
		if err := e.notify.Send(ctx, summary); err != nil {
			log.Warn("run summary notification failed", zap.Error(err))
		}
	}

	return summary, nil
}

func (e *Engine) runPair(ctx context.Context, ad portal.Adapter, kind string, norm *normalize.Normalizer, opts RunOpts) PairResult {
	log := zap.L().With(zap.String("portal", ad.Name()), zap.String("kind", kind))
	result := PairResult{Portal: ad.Name(), Kind: kind}

	if !opts.Force {
		done, err := e.attempts.HasSucceeded(ctx, ad.Name(), kind, opts.Date)
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			return result
		}
		if done {
			log.Debug("already ingested for this date, skipping")
			result.Status = "skipped"
			return result
		}
	}

	attemptID, err := e.attempts.Start(ctx, ad.Name(), kind, opts.Date)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}
	result.AttemptID = attemptID

	fail := func(err error) PairResult {
		log.Error("ingestion failed", zap.Error(err))
		result.Status = StatusFailed
		result.Error = err.Error()
		if logErr := e.attempts.Finish(ctx, attemptID, StatusFailed, 0, 0, err.Error()); logErr != nil {
			log.Error("failed to record attempt failure", zap.Error(logErr))
		}
		return result
	}

	portalCfg := e.cfg.Portals[ad.Name()]
	lcOpts := portal.LifecycleOpts{
		AuthTimeout:     portalCfg.AuthTimeout(),
		RetrieveTimeout: portalCfg.RetrieveTimeout(),
		DiagnosticDir:   e.cfg.Ingest.DiagnosticDir,
	}

	artifact, err := retry.DoVal(ctx, e.retryConfig(ad.Name()), func(ctx context.Context) (extract.Artifact, error) {
		return e.lifecycle(ctx, ad, e.store, opts.Date, kind, lcOpts)
	})
	if err != nil {
		return fail(err)
	}

	rows, err := e.extractFn(artifact)
	if artifact.Path != "" {
		_ = os.Remove(artifact.Path)
	}
	if err != nil {
		// Contract violations are structural; retrying the download would
		// fetch the same malformed file.
		return fail(err)
	}

	if len(rows) == 0 {
		log.Warn("portal returned zero rows, flagging for review")
		result.Status = StatusPartial
		result.Error = "portal returned zero rows"
		if logErr := e.attempts.Finish(ctx, attemptID, StatusPartial, 0, 0, result.Error); logErr != nil {
			log.Error("failed to record attempt", zap.Error(logErr))
		}
		return result
	}

	records, rowErrs := norm.Normalize(ad.Name(), kind, opts.Date, rows, ad.Mapping(kind))

	table, err := upsert.TableForKind(kind)
	if err != nil {
		return fail(err)
	}

	// The lifecycle completed, so dropped rows make the attempt partial
	// rather than failed, even when every single row dropped.
	var written int64
	if len(records) > 0 {
		written, err = e.writer.Write(ctx, table, records)
		if err != nil {
			return fail(err)
		}
	} else {
		log.Warn("every row failed normalization", zap.Int("rows_failed", len(rowErrs)))
	}

	status := StatusSuccess
	var errMsg string
	if len(rowErrs) > 0 {
		status = StatusPartial
		errMsg = summarizeRowErrors(rowErrs)
	}

	result.Status = status
	result.RowsWritten = written
	result.RowsFailed = int64(len(rowErrs))
	result.Error = errMsg
	if logErr := e.attempts.Finish(ctx, attemptID, status, written, int64(len(rowErrs)), errMsg); logErr != nil {
		log.Error("failed to record attempt completion", zap.Error(logErr))
	}

	log.Info("ingestion complete",
		zap.String("status", status),
		zap.Int64("rows_written", written),
		zap.Int("rows_failed", len(rowErrs)),
	)
	return result
}

func (e *Engine) retryConfig(portalName string) retry.Config {
	cfg := retry.Config{
		MaxAttempts:    e.cfg.Ingest.MaxAttempts,
		InitialBackoff: time.Duration(e.cfg.Ingest.BaseBackoffSec) * time.Second,
		OnRetry:        retry.Logger(portalName, "lifecycle"),
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	return cfg
}

func selectKinds(ad portal.Adapter, requested []string) []string {
	if len(requested) == 0 {
		return ad.Kinds()
	}

	supported := make(map[string]bool, len(ad.Kinds()))
	for _, k := range ad.Kinds() {
		supported[k] = true
	}

	var out []string
	for _, k := range requested {
		if supported[k] {
			out = append(out, k)
		}
	}
	return out
}

// summarizeRowErrors keeps attempt records readable when thousands of rows
// fail: first few verbatim, then a count.
func summarizeRowErrors(errs []*normalize.RowError) string {
	const keep = 5
	parts := make([]string, 0, keep+1)
	for i, e := range errs {
		if i == keep {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, e.Error())
	}
	msg := strings.Join(parts, "; ")
	if len(errs) > keep {
		msg += " (" + strconv.Itoa(len(errs)) + " rows total)"
	}
	return msg
}
