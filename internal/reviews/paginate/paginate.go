// Package paginate implements the Paginator (spec.md §4.7): walks one
// (endpoint, orgId, csrfToken, sortOrder, ratingFilter?) tuple page by
// page, trying three pagination-parameter variants until one sticks.
package paginate

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/captcha"
)

const (
	PageSize   = 50
	MaxPages   = 22
	MaxRetries = 3

	pageDelay = 500 * time.Millisecond

	VariantUnknown       = 0
	VariantOneBasedPage  = 1
	VariantZeroBasedPage = 2
	VariantOffsetLimit   = 3
)

// Params identifies the tuple the Paginator walks.
type Params struct {
	Endpoint     string // full URL, e.g. https://yandex.ru/maps/api/business/fetchReviews
	OrgID        string
	UseOid       bool // widget endpoint uses oid instead of businessId
	CsrfToken    string
	SessionID    string
	ReqID        string
	SortOrder    string
	RatingFilter *int // nil when unfiltered

	captchaAnswer string // set internally after a successful solve
}

// Deps wires the Paginator to the shared HTTP Client, Normalizer, Captcha
// Solver, and Deduplicator used across the whole walk. SessionManager is
// optional; when set, a failed captcha solve refreshes the CSRF token
// through it instead of just rotating the HTTP Client's identity.
type Deps struct {
	Client         reviews.HTTPClient
	Normalizer     reviews.Normalizer
	CaptchaSolver  reviews.CaptchaSolver
	Dedup          *reviews.Deduplicator
	Clock          reviews.Clock
	Logger         *zap.Logger
	SessionManager reviews.SessionRefresher
}

// Paginator walks a single tuple, appending accepted reviews to a shared
// accumulator so the Fan-out Orchestrator can merge across many walks.
type Paginator struct {
	deps Deps
}

// New builds a Paginator. deps.Clock defaults to reviews.SystemClock.
func New(deps Deps) *Paginator {
	if deps.Clock == nil {
		deps.Clock = reviews.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	return &Paginator{deps: deps}
}

// WalkResult reports what one Walk call accumulated.
type WalkResult struct {
	Fetched       int
	TotalCount    int // -1 if the upstream never reported one
	Rating        *float64
	OrgName       string
	StoppedReason string
}

// Walk pages through the tuple, appending deduplicated candidates to
// accumulator, until a stopping rule fires (spec.md §4.7). workingVariant
// is a shared pointer so a whole endpoint×sortOrder cross product (or a
// single star-filtered pass) can cache the pagination scheme that worked.
func (p *Paginator) Walk(ctx context.Context, params Params, deadline time.Time, workingVariant *int, accumulator *[]reviews.RawReview) WalkResult {
	result := WalkResult{TotalCount: -1}

	nullStreak := 0
	emptyStreak := 0
	dupStreak := 0
	captchaRetries := 0

	page := 1
	for {
		if p.deps.Clock.Now().After(deadline) {
			result.StoppedReason = "global_deadline"
			return result
		}
		if page > MaxPages {
			result.StoppedReason = "max_pages"
			return result
		}

		outcome, variant := p.fetchPage(ctx, params, page, *workingVariant, deadline)
		if variant != VariantUnknown && *workingVariant == VariantUnknown {
			*workingVariant = variant
		}

		switch {
		case outcome == nil:
			metrics.ObservePage(params.Endpoint, "null")
			nullStreak++
			limit := nullTolerance(result.Fetched, result.TotalCount)
			if nullStreak > limit {
				result.StoppedReason = "null_streak"
				return result
			}
			page++
			p.pause(ctx, pageDelay)
			continue

		case outcome.captcha != nil:
			metrics.ObservePage(params.Endpoint, "captcha")
			nullStreak = 0
			captchaRetries++
			if captchaRetries > 5 {
				result.StoppedReason = "captcha_retries"
				return result
			}
			token, ok := p.solveCaptcha(ctx, outcome.captcha, deadline)
			if !ok {
				// A failed solve means the identity that triggered the
				// challenge is burned: rotate proxy, reset session, wait,
				// refresh the CSRF token, and retry the same page (spec.md
				// §4.6/§4.7).
				p.deps.Client.RotateProxy()
				p.resetSession()
				p.pause(ctx, 5*time.Second)
				params.CsrfToken = p.refreshCsrfToken(ctx, params)
				continue
			}
			// A successful solve resubmits with captchaAnswer bound to the
			// current identity — resetting it here would invalidate the
			// answer.
			params = withCaptchaAnswer(params, token)
			continue

		default:
			metrics.ObservePage(params.Endpoint, "ok")
			nullStreak = 0
		}

		if outcome.orgName != "" {
			result.OrgName = outcome.orgName
		}
		if outcome.rating != nil {
			result.Rating = outcome.rating
		}
		if outcome.totalCount > result.TotalCount {
			result.TotalCount = outcome.totalCount
		}

		if len(outcome.reviews) == 0 {
			emptyStreak++
			limit := nullTolerance(result.Fetched, result.TotalCount)
			if emptyStreak > limit {
				result.StoppedReason = "empty_streak"
				return result
			}
			page++
			p.pause(ctx, pageDelay)
			continue
		}
		emptyStreak = 0

		accepted := 0
		for _, raw := range outcome.reviews {
			if p.deps.Dedup.Add(raw) {
				*accumulator = append(*accumulator, raw)
				accepted++
			} else {
				metrics.ObserveDedupDrop("duplicate")
			}
		}
		result.Fetched += accepted

		if accepted == 0 {
			dupStreak++
			limit := dupTolerance(result.Fetched, result.TotalCount)
			if dupStreak > limit {
				result.StoppedReason = "duplicate_streak"
				return result
			}
		} else {
			dupStreak = 0
		}

		if result.TotalCount > 0 && result.Fetched >= result.TotalCount {
			result.StoppedReason = "reached_total"
			return result
		}
		if len(outcome.reviews) < PageSize && (result.TotalCount <= 0 || result.Fetched >= result.TotalCount) {
			result.StoppedReason = "short_page"
			return result
		}

		page++
		p.pause(ctx, pageDelay)
	}
}

func nullTolerance(fetched, totalCount int) int {
	if totalCount <= 0 || fetched < totalCount {
		return 4
	}
	return 2
}

func dupTolerance(fetched, totalCount int) int {
	if totalCount <= 0 || fetched < totalCount {
		return 3
	}
	return 2
}

func (p *Paginator) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	metrics.ObservePageDelay("page", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type captchaInfo struct {
	siteKey     string
	captchaType string
	pageURL     string
}

type pageOutcome struct {
	reviews    []reviews.RawReview
	totalCount int
	rating     *float64
	orgName    string
	captcha    *captchaInfo
}

// fetchPage tries the cached variant if known, else A, B, C in order, and
// returns the first that yields a JSON-parseable body along with the
// variant that worked.
func (p *Paginator) fetchPage(ctx context.Context, params Params, page, cachedVariant int, deadline time.Time) (*pageOutcome, int) {
	variants := []int{cachedVariant}
	if cachedVariant == VariantUnknown {
		variants = []int{VariantOneBasedPage, VariantZeroBasedPage, VariantOffsetLimit}
	}

	for _, variant := range variants {
		query := p.buildQuery(params, page, variant)
		resp, err := p.deps.Client.Get(ctx, params.Endpoint, query, nil, 0)
		if err != nil || resp == nil {
			continue
		}
		var root map[string]any
		if json.Unmarshal(resp.Body, &root) != nil {
			continue
		}
		if info := detectCaptcha(root, params.Endpoint); info != nil {
			return &pageOutcome{captcha: info}, variant
		}
		fetchResult, ok := p.deps.Normalizer.FromJSON(params.OrgID, resp.Body)
		if !ok {
			fetchResult, ok = p.deps.Normalizer.FromDOM(resp.Body)
			if !ok {
				return &pageOutcome{}, variant
			}
		}
		return &pageOutcome{
			reviews:    fetchResult.Reviews,
			totalCount: fetchResult.TotalReviews,
			rating:     fetchResult.Rating,
			orgName:    fetchResult.OrganizationName,
		}, variant
	}
	return nil, VariantUnknown
}

func (p *Paginator) buildQuery(params Params, page, variant int) map[string]string {
	q := map[string]string{
		"ajax":    "1",
		"locale":  "ru_RU",
		"ranking": params.SortOrder,
	}
	if params.UseOid {
		q["oid"] = params.OrgID
	} else {
		q["businessId"] = params.OrgID
	}
	if params.CsrfToken != "" {
		q["csrfToken"] = params.CsrfToken
	}
	if params.RatingFilter != nil {
		q["rating"] = strconv.Itoa(*params.RatingFilter)
	}
	if params.SessionID != "" {
		q["sessionId"] = params.SessionID
	}
	if params.ReqID != "" {
		q["reqId"] = params.ReqID
	}
	if params.captchaAnswer != "" {
		q["captchaAnswer"] = params.captchaAnswer
	}

	switch variant {
	case VariantZeroBasedPage:
		q["page"] = strconv.Itoa(page - 1)
		q["pageSize"] = strconv.Itoa(PageSize)
	case VariantOffsetLimit:
		q["offset"] = strconv.Itoa((page - 1) * PageSize)
		q["limit"] = strconv.Itoa(PageSize)
	default:
		q["page"] = strconv.Itoa(page)
		q["pageSize"] = strconv.Itoa(PageSize)
	}

	q["s"] = reviews.Sign(q)
	return q
}

func withCaptchaAnswer(params Params, token string) Params {
	params.captchaAnswer = token
	return params
}

// resetSession wipes the session bound to this walk's identity. When no
// SessionManager was wired (e.g. a Paginator used standalone in tests), it
// falls back to resetting the HTTP Client's identity directly.
func (p *Paginator) resetSession() {
	if p.deps.SessionManager != nil {
		p.deps.SessionManager.ResetSession()
		return
	}
	p.deps.Client.ResetIdentity()
}

// refreshCsrfToken re-discovers a CSRF token for params.Endpoint's origin
// after a session reset. It returns params.CsrfToken unchanged when no
// SessionManager is wired or the refresh fails.
func (p *Paginator) refreshCsrfToken(ctx context.Context, params Params) string {
	if p.deps.SessionManager == nil {
		return params.CsrfToken
	}
	origin := originOf(params.Endpoint)
	if origin == "" {
		return params.CsrfToken
	}
	token, ok := p.deps.SessionManager.GetCsrfToken(ctx, origin)
	if !ok {
		return params.CsrfToken
	}
	return token
}

// originOf returns the scheme+host origin of a full URL, or "" if it
// cannot be parsed.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func detectCaptcha(root map[string]any, pageURL string) *captchaInfo {
	captchaRequired, _ := root["captchaRequired"].(bool)
	typeVal, _ := root["type"].(string)
	if !captchaRequired && typeVal != "captcha" {
		return nil
	}
	siteKey := ""
	for _, key := range []string{"key", "sitekey", "captchaKey", "data-sitekey"} {
		if v, ok := root[key].(string); ok && v != "" {
			siteKey = v
			break
		}
	}
	captchaType, _ := root["captchaType"].(string)
	return &captchaInfo{siteKey: siteKey, captchaType: captchaType, pageURL: pageURL}
}

func (p *Paginator) solveCaptcha(ctx context.Context, info *captchaInfo, deadline time.Time) (string, bool) {
	method := captcha.DetectMethod(info.captchaType, info.pageURL)
	return p.deps.CaptchaSolver.Solve(ctx, method, info.siteKey, info.pageURL, deadline)
}
