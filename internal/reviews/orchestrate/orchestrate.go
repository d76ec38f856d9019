// Package orchestrate implements the Fan-out Orchestrator (spec.md §4.8):
// runs the Paginator across an endpoint×sortOrder cross product, then a
// per-rating fallback pass, merging into one deduplicated accumulator.
package orchestrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/paginate"
)

// Endpoint paths tried in order against the active host (spec.md §4.8).
const (
	EndpointFetchReviews       = "/maps/api/business/fetchReviews"
	EndpointGetBusinessReviews = "/maps/api/business/getBusinessReviews"
	EndpointWidgetFetchReviews = "/maps-reviews-widget/fetchReviews"
)

var endpoints = []struct {
	path   string
	useOid bool
}{
	{EndpointFetchReviews, false},
	{EndpointGetBusinessReviews, false},
	{EndpointWidgetFetchReviews, true},
}

var sortOrders = []string{"by_time", "by_rating", "by_relevance"}

var ratingPasses = []int{1, 2, 3, 4, 5}

const starPassPause = 2 * time.Second

// SessionContext carries the identifiers a Paginator needs from the
// Session Manager for every tuple it walks.
type SessionContext struct {
	Host      string // e.g. https://yandex.ru
	OrgID     string
	CsrfToken string
	SessionID string
	ReqID     string
}

// Orchestrator wires a Paginator across the whole fan-out plan.
type Orchestrator struct {
	paginator *paginate.Paginator
	logger    *zap.Logger
	clock     reviews.Clock
}

// New builds an Orchestrator around an already-configured Paginator.
func New(paginator *paginate.Paginator, logger *zap.Logger, clock reviews.Clock) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = reviews.SystemClock
	}
	metrics.Init()
	return &Orchestrator{paginator: paginator, logger: logger, clock: clock}
}

// Run executes the endpoint×sortOrder cross product, then — if a gap
// remains against the reported totalCount — a per-rating fallback pass
// against endpoint 1 with sortOrder=by_time (spec.md §4.8).
func (o *Orchestrator) Run(ctx context.Context, sess SessionContext, deadline time.Time) *reviews.FetchResult {
	result := &reviews.FetchResult{TotalReviews: -1}
	var accumulator []reviews.RawReview

	variant := paginate.VariantUnknown
	for _, ep := range endpoints {
		for _, sort := range sortOrders {
			if o.clock.Now().After(deadline) {
				return finalize(result, accumulator)
			}
			walk := o.paginator.Walk(ctx, paginate.Params{
				Endpoint:  sess.Host + ep.path,
				OrgID:     sess.OrgID,
				UseOid:    ep.useOid,
				CsrfToken: sess.CsrfToken,
				SessionID: sess.SessionID,
				ReqID:     sess.ReqID,
				SortOrder: sort,
			}, deadline, &variant, &accumulator)
			mergeMeta(result, walk)

			if result.TotalReviews > 0 && len(accumulator) >= result.TotalReviews {
				return finalize(result, accumulator)
			}
		}
	}

	if result.TotalReviews > 0 && len(accumulator) >= result.TotalReviews {
		return finalize(result, accumulator)
	}

	for i, stars := range ratingPasses {
		if o.clock.Now().After(deadline) {
			break
		}
		variant = paginate.VariantUnknown // filtered queries may use a different scheme
		rating := stars
		walk := o.paginator.Walk(ctx, paginate.Params{
			Endpoint:     sess.Host + EndpointFetchReviews,
			OrgID:        sess.OrgID,
			CsrfToken:    sess.CsrfToken,
			SessionID:    sess.SessionID,
			ReqID:        sess.ReqID,
			SortOrder:    "by_time",
			RatingFilter: &rating,
		}, deadline, &variant, &accumulator)
		mergeMeta(result, walk)

		if i < len(ratingPasses)-1 {
			o.pause(ctx, starPassPause)
		}
	}

	return finalize(result, accumulator)
}

func mergeMeta(result *reviews.FetchResult, walk paginate.WalkResult) {
	if walk.TotalCount > result.TotalReviews {
		result.TotalReviews = walk.TotalCount
	}
	if walk.Rating != nil {
		result.Rating = walk.Rating
	}
	if walk.OrgName != "" {
		result.OrganizationName = walk.OrgName
	}
}

func finalize(result *reviews.FetchResult, accumulator []reviews.RawReview) *reviews.FetchResult {
	if result.TotalReviews < 0 {
		result.TotalReviews = len(accumulator)
	}
	result.Reviews = accumulator
	return result
}

func (o *Orchestrator) pause(ctx context.Context, delay time.Duration) {
	metrics.ObservePageDelay("star_pass", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
