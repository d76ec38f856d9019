// Package engine wires the Review Acquisition Engine's subsystems —
// session, pagination, fan-out, dedup, storage, and the distributed lock —
// into the two top-level operations spec.md §6 names: syncing one Source
// and sweeping every registered Source.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/captcha"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/httpclient"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/normalize"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/orchestrate"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/paginate"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/session"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/store"
)

// GlobalBudget is the per-Source wall-clock ceiling spec.md §4.1 imposes on
// the whole acquisition pipeline, from session init through materialize.
const GlobalBudget = 480 * time.Second

// SourceRepository is the narrow persistence surface the Engine needs
// beyond the review Materializer — looking up and listing Source rows.
type SourceRepository interface {
	GetSource(ctx context.Context, sourceID string) (*reviews.Source, error)
	ListSources(ctx context.Context) ([]reviews.Source, error)
}

// Config controls Engine construction.
type Config struct {
	Proxies           []string
	RequestsPerSecond float64
	CaptchaKey        string
	CaptchaURL        string
	RedisAddr         string
	RedisPass         string
	RedisDB           int
	LockTTL           time.Duration
	RequestDelay      time.Duration
}

// fetchFunc performs the session-init + fan-out pipeline for one Source.
type fetchFunc func(ctx context.Context, parsed *reviews.ParsedOrgID, deadline time.Time) (*reviews.FetchResult, error)

// sourcePipeline is the per-sweep resource SyncAllSources rotates and
// resets between sources, holding one HTTP-client/session identity across
// the whole sequential sweep (spec.md §4.11, §5).
type sourcePipeline interface {
	fetch(ctx context.Context, parsed *reviews.ParsedOrgID, deadline time.Time) (*reviews.FetchResult, error)
	rotateAndReset()
}

// Engine is the top-level coordinator a scheduler or API handler calls
// into; it owns no long-lived network resources beyond its HTTP client and
// Redis connection, both of which are safe for concurrent use.
type Engine struct {
	cfg     Config
	store   reviews.Store
	sources SourceRepository
	locker  reviews.Locker
	clock   reviews.Clock
	logger  *zap.Logger
	group   singleflight.Group

	// fetchFn performs the session-init + fan-out pipeline for a standalone
	// sync. It defaults to e.fetch; tests substitute a stub to exercise
	// lock/materialize behavior without a live HTTP target.
	fetchFn fetchFunc

	// newPipeline builds the shared pipeline a batch sweep rotates between
	// sources. It defaults to e.newProductionPipeline; tests substitute a
	// stub to assert rotation/reset behavior without a live HTTP target.
	newPipeline func() sourcePipeline
}

// New builds an Engine. store persists reviews, sources resolves Source
// rows, locker guards against concurrent syncs of the same Source across
// process instances.
func New(cfg Config, store reviews.Store, sources SourceRepository, locker reviews.Locker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 300 * time.Second
	}
	metrics.Init()
	e := &Engine{
		cfg:     cfg,
		store:   store,
		sources: sources,
		locker:  locker,
		clock:   reviews.SystemClock,
		logger:  logger,
	}
	e.fetchFn = e.fetch
	e.newPipeline = e.newProductionPipeline
	return e
}

// SyncResult summarizes one completed Source sync.
type SyncResult struct {
	SourceID     string
	Fetched      int
	Stored       int
	TotalReviews int
	Err          error
}

// SyncReviews runs a full, non-incremental sync of one Source: parse its
// URL, initialize a session, fan out across the full pagination plan, and
// replace its stored reviews wholesale (spec.md §4.10's ReplaceAll path).
// Concurrent callers for the same sourceID are coalesced onto a single
// in-flight run via singleflight, and the Redis lock in turn guards against
// a second process instance doing the same (spec.md §4.11).
func (e *Engine) SyncReviews(ctx context.Context, sourceID string) SyncResult {
	v, err, _ := e.group.Do(sourceID, func() (any, error) {
		return e.syncOnce(ctx, sourceID, incrementalFalse, e.fetchFn)
	})
	if err != nil {
		return SyncResult{SourceID: sourceID, Err: err}
	}
	return v.(SyncResult)
}

// SyncNewReviews runs an incremental sync: only reviews not already stored
// for this Source are appended (spec.md §4.10's InsertNew path).
func (e *Engine) SyncNewReviews(ctx context.Context, sourceID string) SyncResult {
	v, err, _ := e.group.Do(sourceID, func() (any, error) {
		return e.syncOnce(ctx, sourceID, incrementalTrue, e.fetchFn)
	})
	if err != nil {
		return SyncResult{SourceID: sourceID, Err: err}
	}
	return v.(SyncResult)
}

type incrementalMode bool

const (
	incrementalFalse incrementalMode = false
	incrementalTrue  incrementalMode = true
)

func (e *Engine) syncOnce(ctx context.Context, sourceID string, incremental incrementalMode, fetch fetchFunc) (SyncResult, error) {
	started := time.Now()
	mode := "full"
	if incremental {
		mode = "incremental"
	}
	metrics.IncActiveSyncs()
	defer func() {
		metrics.DecActiveSyncs()
		metrics.ObserveSyncDuration(mode, time.Since(started))
	}()

	deadline := e.clock.Now().Add(GlobalBudget)
	lockKey := "sync_source_" + sourceID

	lease, ok, err := e.locker.Acquire(ctx, lockKey, e.cfg.LockTTL)
	if err != nil {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("source %s is already syncing", sourceID)
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil {
			e.logger.Warn("engine: lock release failed", zap.String("key", lockKey), zap.Error(releaseErr))
		}
	}()

	src, err := e.sources.GetSource(ctx, sourceID)
	if err != nil {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("load source: %w", err)
	}

	parsed, err := reviews.ParseOrganizationID(src.URL)
	if err != nil {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("parse organization id: %w", err)
	}

	result, err := fetch(ctx, parsed, deadline)
	if err != nil {
		return SyncResult{SourceID: sourceID}, err
	}

	return e.materialize(ctx, sourceID, result, incremental)
}

// fetch builds a fresh HTTP-client/session identity and runs the
// session-init -> fan-out-orchestrate pipeline against it. Used for
// standalone syncs; SyncAllSources instead shares one identity across a
// whole sweep via newProductionPipeline.
func (e *Engine) fetch(ctx context.Context, parsed *reviews.ParsedOrgID, deadline time.Time) (*reviews.FetchResult, error) {
	client := httpclient.New(httpclient.Config{Proxies: e.cfg.Proxies, RequestsPerSecond: e.cfg.RequestsPerSecond, Logger: e.logger})
	normalizer := normalize.New()
	sessMgr := session.New(client, normalizer, e.logger)
	return e.runFetch(ctx, client, normalizer, sessMgr, parsed, deadline)
}

// runFetch drives the session-init -> fan-out-orchestrate pipeline against
// an already-constructed identity, regardless of incremental mode — the
// upstream fan-out plan is identical either way; only the write path
// differs.
func (e *Engine) runFetch(ctx context.Context, client reviews.HTTPClient, normalizer reviews.Normalizer, sessMgr *session.Manager, parsed *reviews.ParsedOrgID, deadline time.Time) (*reviews.FetchResult, error) {
	host := "https://" + reviews.MirrorHost(parsed.HostTag)

	initResult, err := sessMgr.InitializeSession(ctx, host+"/maps/org/-/"+parsed.OrgID+"/reviews/", parsed.OrgID)
	if err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	solver := captcha.New(captcha.Config{APIKey: e.cfg.CaptchaKey, Endpoint: e.cfg.CaptchaURL, Logger: e.logger})

	paginator := paginate.New(paginate.Deps{
		Client:         client,
		Normalizer:     normalizer,
		CaptchaSolver:  solver,
		Dedup:          reviews.NewDeduplicator(),
		Clock:          e.clock,
		Logger:         e.logger,
		SessionManager: sessMgr,
	})
	orch := orchestrate.New(paginator, e.logger, e.clock)

	csrfToken, _ := sessMgr.GetCsrfToken(ctx, host)

	result := orch.Run(ctx, orchestrate.SessionContext{
		Host:      host,
		OrgID:     parsed.OrgID,
		CsrfToken: csrfToken,
		SessionID: sessMgr.SessionID(),
		ReqID:     sessMgr.ReqID(),
	}, deadline)

	if initResult != nil && result.OrganizationName == "" {
		result.OrganizationName = initResult.OrganizationName
	}
	return result, nil
}

// enginePipeline is the production sourcePipeline: one HTTP client and
// session.Manager shared across a whole batch sweep.
type enginePipeline struct {
	engine     *Engine
	client     reviews.HTTPClient
	normalizer reviews.Normalizer
	session    *session.Manager
}

func (p *enginePipeline) fetch(ctx context.Context, parsed *reviews.ParsedOrgID, deadline time.Time) (*reviews.FetchResult, error) {
	return p.engine.runFetch(ctx, p.client, p.normalizer, p.session, parsed, deadline)
}

// rotateAndReset rotates the proxy and resets the session between sources
// in a batch sweep; only the proxy index monotonically advances — every
// other piece of identity state starts fresh for the next source (spec.md
// §5).
func (p *enginePipeline) rotateAndReset() {
	p.client.RotateProxy()
	p.session.ResetSession()
}

func (e *Engine) newProductionPipeline() sourcePipeline {
	client := httpclient.New(httpclient.Config{Proxies: e.cfg.Proxies, RequestsPerSecond: e.cfg.RequestsPerSecond, Logger: e.logger})
	normalizer := normalize.New()
	sessMgr := session.New(client, normalizer, e.logger)
	return &enginePipeline{engine: e, client: client, normalizer: normalizer, session: sessMgr}
}

func (e *Engine) materialize(ctx context.Context, sourceID string, result *reviews.FetchResult, incremental incrementalMode) (SyncResult, error) {
	if len(result.Reviews) == 0 {
		if err := e.store.TouchLastSynced(ctx, sourceID, e.clock.Now()); err != nil {
			return SyncResult{SourceID: sourceID}, fmt.Errorf("touch last synced: %w", err)
		}
		return SyncResult{SourceID: sourceID, TotalReviews: result.TotalReviews}, nil
	}

	var stored int
	var err error
	if incremental {
		stored, err = e.store.InsertNew(ctx, sourceID, result.Reviews)
	} else {
		stored, err = e.store.ReplaceAll(ctx, sourceID, result.Reviews)
	}
	if err != nil {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("materialize reviews: %w", err)
	}

	rating := result.Rating
	if rating != nil {
		rounded := store.FormatUpstreamRating(*rating)
		rating = &rounded
	} else {
		rating, err = e.store.AverageStoredRating(ctx, sourceID)
		if err != nil {
			return SyncResult{SourceID: sourceID}, fmt.Errorf("average stored rating: %w", err)
		}
	}

	if err := e.store.UpdateSourceMeta(ctx, sourceID, result.OrganizationName, rating, len(result.Reviews), e.clock.Now()); err != nil {
		return SyncResult{SourceID: sourceID}, fmt.Errorf("update source meta: %w", err)
	}

	return SyncResult{
		SourceID:     sourceID,
		Fetched:      len(result.Reviews),
		Stored:       stored,
		TotalReviews: result.TotalReviews,
	}, nil
}

// interSourceDelay is the pause a batch sweep takes between sources, after
// rotating proxy and resetting session (spec.md §4.11).
const interSourceDelay = 2 * time.Second

// SyncAllSources sweeps every registered Source sequentially through one
// shared HTTP-client/session identity, rotating proxy and resetting session
// between sources with a 2s delay (spec.md §4.11, §5): only the proxy
// index monotonically advances across the sweep, every other piece of
// identity state is reset between sources. incremental selects
// SyncNewReviews's InsertNew path over SyncReviews's ReplaceAll path for
// every source in the sweep.
func (e *Engine) SyncAllSources(ctx context.Context, incremental bool) []SyncResult {
	srcs, err := e.sources.ListSources(ctx)
	if err != nil {
		e.logger.Error("sync all sources: list failed", zap.Error(err))
		return nil
	}

	mode := incrementalFalse
	if incremental {
		mode = incrementalTrue
	}

	pipeline := e.newPipeline()
	results := make([]SyncResult, 0, len(srcs))

	for i, src := range srcs {
		if i > 0 {
			pipeline.rotateAndReset()
			if !e.sleep(ctx, interSourceDelay) {
				break
			}
		}

		res, err := e.syncOnce(ctx, src.ID, mode, pipeline.fetch)
		if err != nil {
			res = SyncResult{SourceID: src.ID, Err: err}
		}
		if res.Err != nil {
			e.logger.Warn("sync failed", zap.String("source_id", src.ID), zap.Error(res.Err))
		}
		results = append(results, res)
	}

	return results
}

// sleep waits out delay, returning false early if ctx is canceled first.
func (e *Engine) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
