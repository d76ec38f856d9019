// Package session implements the Session Manager (spec.md §4.3): session
// bootstrap, CSRF token discovery, and identity reset, built on top of the
// HTTP Client and Response Normalizer components.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

var csrfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"csrfToken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`name="csrf-token"\s+content="([^"]+)"`),
	regexp.MustCompile(`window\.CSRF_TOKEN\s*=\s*"([^"]+)"`),
	regexp.MustCompile(`data-csrf="([^"]+)"`),
}

var sessionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"sessionId"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`window\.SESSION_ID\s*=\s*"([^"]+)"`),
}

var reqIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"reqId"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`window\.REQ_ID\s*=\s*"([^"]+)"`),
}

// Manager bootstraps and maintains one scraping identity: cookie jar
// (delegated to the wrapped HTTPClient), CSRF token, session id, request
// id, and the cached working pagination variant.
type Manager struct {
	client     reviews.HTTPClient
	normalizer reviews.Normalizer
	logger     *zap.Logger

	csrfToken   string
	sessionID   string
	reqID       string
	lastHTML    []byte
	workingPage int // cached pagination variant; 0 means "not yet known"
}

// New builds a Manager wrapping an already-constructed HTTPClient and
// Normalizer.
func New(client reviews.HTTPClient, normalizer reviews.Normalizer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Manager{client: client, normalizer: normalizer, logger: logger}
}

// InitializeSession normalizes rawURL to its reviews tab, fetches it with
// navigation-style headers, and extracts CSRF/session/request ids from the
// returned HTML (spec.md §4.3 initializeSession).
func (m *Manager) InitializeSession(ctx context.Context, rawURL, orgID string) (*reviews.FetchResult, error) {
	target := normalizeToReviewsTab(rawURL)

	headers := http.Header{}
	headers.Set("Sec-Fetch-Dest", "document")
	headers.Set("Sec-Fetch-Site", "none")
	headers.Set("Sec-Fetch-Mode", "navigate")
	headers.Set("Sec-Fetch-User", "?1")
	headers.Set("Upgrade-Insecure-Requests", "1")

	var resp *reviews.Response
	op := func() error {
		r, err := m.client.Get(ctx, target, nil, headers, 0)
		if err != nil {
			return err
		}
		if r == nil {
			return errSoftNull
		}
		resp = r
		return nil
	}

	schedule := &twoStepBackoff{first: time.Second, second: 2 * time.Second}
	if err := backoff.Retry(op, schedule); err != nil {
		m.logger.Warn("session: initializeSession exhausted retries", zap.Error(err))
		return nil, nil
	}

	m.lastHTML = resp.Body
	m.extractIdentifiers(resp.Body)

	if result, ok := m.normalizer.FromEmbeddedState(orgID, resp.Body); ok {
		return result, nil
	}
	return nil, nil
}

var errSoftNull = errSentinel("soft null response")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// twoStepBackoff implements the spec's explicit 1s, 2s linear schedule —
// not an exponential curve.
type twoStepBackoff struct {
	first, second time.Duration
	calls         int
}

func (b *twoStepBackoff) NextBackOff() time.Duration {
	b.calls++
	switch b.calls {
	case 1:
		return b.first
	case 2:
		return b.second
	default:
		return backoff.Stop
	}
}

func (b *twoStepBackoff) Reset() { b.calls = 0 }

func normalizeToReviewsTab(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if strings.HasSuffix(trimmed, "/reviews") {
		return trimmed + "/"
	}
	return trimmed + "/reviews/"
}

func (m *Manager) extractIdentifiers(html []byte) {
	text := string(html)
	if token, ok := firstMatch(csrfPatterns, text); ok {
		m.csrfToken = token
	}
	if sid, ok := firstMatch(sessionIDPatterns, text); ok {
		m.sessionID = sid
	}
	if rid, ok := firstMatch(reqIDPatterns, text); ok {
		m.reqID = rid
	}
}

func firstMatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

type csrfTokenBody struct {
	Token     string `json:"token"`
	CsrfToken string `json:"csrfToken"`
}

// GetCsrfToken returns the cached token if present, otherwise issues GET to
// the origin's /maps/api/csrf-token endpoint up to 3 times with linear
// back-off (spec.md §4.3 getCsrfToken).
func (m *Manager) GetCsrfToken(ctx context.Context, originURL string) (string, bool) {
	if m.csrfToken != "" {
		return m.csrfToken, true
	}

	endpoint := strings.TrimRight(originURL, "/") + "/maps/api/csrf-token"
	var token string
	attempts := 0
	op := func() error {
		attempts++
		resp, err := m.client.Get(ctx, endpoint, nil, nil, 0)
		if err != nil {
			return err
		}
		if resp == nil || resp.StatusCode >= 400 {
			return errSoftNull
		}
		body := strings.TrimSpace(string(resp.Body))
		if body == "" {
			return errSoftNull
		}
		var parsed csrfTokenBody
		if json.Unmarshal(resp.Body, &parsed) == nil {
			if parsed.Token != "" {
				token = parsed.Token
				return nil
			}
			if parsed.CsrfToken != "" {
				token = parsed.CsrfToken
				return nil
			}
		}
		token = body
		return nil
	}

	schedule := &linearBackoff{step: time.Second, max: 3}
	if err := backoff.Retry(op, schedule); err != nil {
		m.logger.Warn("session: getCsrfToken exhausted retries", zap.Error(err))
		return "", false
	}
	m.csrfToken = token
	return token, true
}

// linearBackoff grows by a fixed step each attempt, up to max attempts.
type linearBackoff struct {
	step  time.Duration
	max   int
	calls int
}

func (b *linearBackoff) NextBackOff() time.Duration {
	b.calls++
	if b.calls >= b.max {
		return backoff.Stop
	}
	return time.Duration(b.calls) * b.step
}

func (b *linearBackoff) Reset() { b.calls = 0 }

// ResetSession wipes cookie jar (via HTTPClient.ResetIdentity), CSRF token,
// session id, request id, and the cached pagination variant, and selects a
// fresh random User-Agent (spec.md §4.3 resetSession).
func (m *Manager) ResetSession() {
	m.client.ResetIdentity()
	m.csrfToken = ""
	m.sessionID = ""
	m.reqID = ""
	m.workingPage = 0
	m.lastHTML = nil
	metrics.ObserveSessionReset()
}

// LastHTML returns the most recently fetched session HTML, for delegation
// to the Response Normalizer's embedded-state strategy.
func (m *Manager) LastHTML() []byte { return m.lastHTML }

// SessionID returns the session id extracted during InitializeSession, or
// "" if none was found.
func (m *Manager) SessionID() string { return m.sessionID }

// ReqID returns the request id extracted during InitializeSession, or ""
// if none was found.
func (m *Manager) ReqID() string { return m.reqID }

// WorkingPaginationVariant returns the cached pagination variant index, or
// 0 if none has been determined yet.
func (m *Manager) WorkingPaginationVariant() int { return m.workingPage }

// SetWorkingPaginationVariant caches the pagination variant that
// successfully returned pages, so later calls skip straight to it.
func (m *Manager) SetWorkingPaginationVariant(variant int) { m.workingPage = variant }
