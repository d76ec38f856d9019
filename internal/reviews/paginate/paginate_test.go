package paginate

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews/normalize"
)

// fakeClient serves canned bodies keyed by the "page" or "offset" query
// parameter so tests can script a short multi-page walk deterministically.
type fakeClient struct {
	pages  map[string][]byte // keyed by page/offset query value
	byPage func(page string) []byte

	rotateCalls int
	resetCalls  int
	lastQuery   map[string]string
}

func (f *fakeClient) Get(_ context.Context, _ string, query map[string]string, _ http.Header, _ time.Duration) (*reviews.Response, error) {
	f.lastQuery = query
	key := query["page"]
	if key == "" {
		key = query["offset"]
	}
	if body, ok := f.pages[key]; ok {
		return &reviews.Response{StatusCode: 200, Body: body}, nil
	}
	if f.byPage != nil {
		return &reviews.Response{StatusCode: 200, Body: f.byPage(key)}, nil
	}
	return &reviews.Response{StatusCode: 200}, nil
}
func (f *fakeClient) RotateProxy()   { f.rotateCalls++ }
func (f *fakeClient) ResetIdentity() { f.resetCalls++ }

// fakeSessionManager stands in for *session.Manager in the captcha-recovery
// path, tracking how many times each method is called.
type fakeSessionManager struct {
	resetCalls int
	token      string
}

func (f *fakeSessionManager) ResetSession() { f.resetCalls++ }

func (f *fakeSessionManager) GetCsrfToken(_ context.Context, _ string) (string, bool) {
	if f.token == "" {
		return "", false
	}
	return f.token, true
}

func reviewJSON(pageTag string, n int, total int) []byte {
	items := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"reviewId": "id-" + pageTag + "-" + string(rune('a'+i)),
			"text":     "text",
			"author":   map[string]any{"name": "Author"},
			"rating":   5,
		})
	}
	body, _ := json.Marshal(map[string]any{"reviews": items, "totalCount": total})
	return body
}

func TestWalkStopsWhenTotalCountReached(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		pages: map[string][]byte{
			"1": reviewJSON("1", 50, 60),
			"2": reviewJSON("2", 10, 60),
		},
	}
	p := New(Deps{
		Client:     client,
		Normalizer: normalize.New(),
		Dedup:      reviews.NewDeduplicator(),
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(context.Background(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(time.Minute), &variant, &acc)

	assert.Equal(t, 60, result.Fetched)
	assert.Equal(t, "reached_total", result.StoppedReason)
	assert.Equal(t, VariantOneBasedPage, variant)
}

func TestWalkStopsOnMaxPages(t *testing.T) {
	t.Parallel()

	client := &fakeClient{byPage: func(page string) []byte { return reviewJSON(page, PageSize, 0) }}
	p := New(Deps{
		Client:     client,
		Normalizer: normalize.New(),
		Dedup:      reviews.NewDeduplicator(),
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(context.Background(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(time.Minute), &variant, &acc)

	assert.Equal(t, "max_pages", result.StoppedReason)
	assert.Equal(t, MaxPages*PageSize, result.Fetched)
}

func TestWalkStopsOnGlobalDeadline(t *testing.T) {
	t.Parallel()

	client := &fakeClient{byPage: func(page string) []byte { return reviewJSON(page, PageSize, 0) }}
	p := New(Deps{
		Client:     client,
		Normalizer: normalize.New(),
		Dedup:      reviews.NewDeduplicator(),
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(context.Background(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(-time.Second), &variant, &acc)

	assert.Equal(t, "global_deadline", result.StoppedReason)
	assert.Equal(t, 0, result.Fetched)
}

// ctxAlreadyDone returns a context that is canceled before the caller ever
// uses it, so Walk's pause() calls (which select on ctx.Done()) return
// instantly instead of sleeping out the real 5s captcha back-off.
func ctxAlreadyDone() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestCaptchaFailedSolveRotatesResetsAndRetriesUntilCap(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(map[string]any{"captchaRequired": true, "sitekey": "sk"})
	client := &fakeClient{byPage: func(string) []byte { return body }}
	sessMgr := &fakeSessionManager{token: "fresh-token"}
	solveCalls := 0
	solver := solverFunc(func(_ context.Context, _, siteKey, _ string, _ time.Time) (string, bool) {
		solveCalls++
		require.Equal(t, "sk", siteKey)
		return "", false
	})

	p := New(Deps{
		Client:         client,
		Normalizer:     normalize.New(),
		Dedup:          reviews.NewDeduplicator(),
		CaptchaSolver:  solver,
		SessionManager: sessMgr,
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(ctxAlreadyDone(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(time.Minute), &variant, &acc)

	assert.Equal(t, "captcha_retries", result.StoppedReason)
	assert.Equal(t, 5, solveCalls)
	assert.Equal(t, 5, client.rotateCalls)
	assert.Equal(t, 5, sessMgr.resetCalls)
}

func TestCaptchaFailedSolveFallsBackToResetIdentityWithoutSessionManager(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(map[string]any{"captchaRequired": true, "sitekey": "sk"})
	client := &fakeClient{byPage: func(string) []byte { return body }}
	solver := solverFunc(func(_ context.Context, _, _, _ string, _ time.Time) (string, bool) {
		return "", false
	})

	p := New(Deps{
		Client:        client,
		Normalizer:    normalize.New(),
		Dedup:         reviews.NewDeduplicator(),
		CaptchaSolver: solver,
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(ctxAlreadyDone(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(time.Minute), &variant, &acc)

	assert.Equal(t, "captcha_retries", result.StoppedReason)
	assert.Equal(t, 5, client.rotateCalls)
	assert.Equal(t, 5, client.resetCalls)
}

func TestCaptchaSuccessfulSolveResubmitsWithoutResettingIdentity(t *testing.T) {
	t.Parallel()

	body, _ := json.Marshal(map[string]any{"captchaRequired": true, "sitekey": "sk"})
	client := &fakeClient{byPage: func(string) []byte { return body }}
	sessMgr := &fakeSessionManager{token: "fresh-token"}
	solver := solverFunc(func(_ context.Context, _, _, _ string, _ time.Time) (string, bool) {
		return "solved-token", true
	})

	p := New(Deps{
		Client:         client,
		Normalizer:     normalize.New(),
		Dedup:          reviews.NewDeduplicator(),
		CaptchaSolver:  solver,
		SessionManager: sessMgr,
	})

	var acc []reviews.RawReview
	variant := VariantUnknown
	result := p.Walk(ctxAlreadyDone(), Params{Endpoint: "https://x", OrgID: "1", SortOrder: "by_time"}, time.Now().Add(time.Minute), &variant, &acc)

	// Every request keeps detecting the same canned captcha body, so the
	// walk still exhausts the 5-retry cap, but it must never have rotated
	// the proxy or reset the session that the solved answer is bound to.
	assert.Equal(t, "captcha_retries", result.StoppedReason)
	assert.Equal(t, 0, client.rotateCalls)
	assert.Equal(t, 0, sessMgr.resetCalls)
	assert.Equal(t, "solved-token", client.lastQuery["captchaAnswer"])
}

type solverFunc func(ctx context.Context, method, siteKey, pageURL string, deadline time.Time) (string, bool)

func (f solverFunc) Solve(ctx context.Context, method, siteKey, pageURL string, deadline time.Time) (string, bool) {
	return f(ctx, method, siteKey, pageURL, deadline)
}
