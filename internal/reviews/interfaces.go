package reviews

import (
	"context"
	"net/http"
	"time"
)

// Response is the outcome of one outbound HTTP call, or nil on any
// transport-level failure — the HTTP Client never raises transport errors
// to its caller (spec.md §4.2).
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	URL        string
}

// HTTPClient wraps an outbound HTTP requester per spec.md §4.2.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, query map[string]string, extraHeaders http.Header, timeout time.Duration) (*Response, error)
	RotateProxy()
	ResetIdentity()
}

// Normalizer produces a FetchResult from one of the three upstream payload
// shapes (spec.md §4.5). All three strategies share this signature so
// callers can try them in sequence and take the first nonempty result: the
// Paginator tries FromJSON then FromDOM, and the Session Manager uses
// FromEmbeddedState on the session page.
type Normalizer interface {
	FromJSON(orgID string, body []byte) (*FetchResult, bool)
	FromEmbeddedState(orgID string, html []byte) (*FetchResult, bool)
	FromDOM(html []byte) (*FetchResult, bool)
}

// CaptchaSolver submits and polls an anti-bot challenge (spec.md §4.6).
type CaptchaSolver interface {
	Solve(ctx context.Context, method string, siteKey string, pageURL string, deadline time.Time) (string, bool)
}

// SessionRefresher lets the Paginator recover from a failed captcha solve by
// resetting the session's identity and re-discovering its CSRF token
// (spec.md §4.6/§4.7). *session.Manager satisfies this.
type SessionRefresher interface {
	ResetSession()
	GetCsrfToken(ctx context.Context, originURL string) (string, bool)
}

// Store persists fetched reviews for a Source (spec.md §4.10).
type Store interface {
	ReplaceAll(ctx context.Context, sourceID string, raws []RawReview) (int, error)
	InsertNew(ctx context.Context, sourceID string, raws []RawReview) (int, error)
	ExistingYandexIDs(ctx context.Context, sourceID string) (map[string]struct{}, error)
	ExistingContentKeys(ctx context.Context, sourceID string) (map[string]struct{}, error)
	UpdateSourceMeta(ctx context.Context, sourceID string, orgName string, rating *float64, totalReviews int, syncedAt time.Time) error
	TouchLastSynced(ctx context.Context, sourceID string, syncedAt time.Time) error
	AverageStoredRating(ctx context.Context, sourceID string) (*float64, error)
}

// Locker guards concurrent syncs for one Source (spec.md §4.11).
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// Lease is a held distributed lock; Release is idempotent and safe to call
// from every exit path.
type Lease interface {
	Release(ctx context.Context) error
}

// Clock abstracts wall-clock time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock implementation.
var SystemClock Clock = systemClock{}
