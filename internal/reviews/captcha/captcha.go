// Package captcha implements the Captcha Handler (spec.md §4.6): sitekey
// and method detection, submission to an external solving service, and a
// fixed-interval poll loop bounded by the caller's remaining global budget.
package captcha

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Laque-Maranda12/yandex-reviews/internal/metrics"
)

const (
	pollInterval  = 5 * time.Second
	maxPollBudget = 120 * time.Second
	createPath    = "/in.php"
	resultPath    = "/res.php"
)

// Config holds the external solving service's endpoint and credentials.
type Config struct {
	APIKey   string
	Endpoint string // e.g. "https://2captcha.com"
	Client   *resty.Client
	Logger   *zap.Logger
}

// Solver implements reviews.CaptchaSolver.
type Solver struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

// New builds a Solver. If cfg.APIKey is empty, Solve always fails
// immediately (spec.md §4.6 "If no API key is configured, captcha fails
// immediately").
func New(cfg Config) *Solver {
	client := cfg.Client
	if client == nil {
		client = resty.New().SetTimeout(10 * time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Solver{cfg: cfg, client: client, logger: logger}
}

// DetectMethod picks "yandex" for SmartCaptcha challenges, else
// "userrecaptcha" (spec.md §4.6 method selection).
func DetectMethod(captchaType, pageURL string) string {
	lowerType := strings.ToLower(captchaType)
	if strings.Contains(lowerType, "smart") ||
		lowerType == "smartcaptcha" || lowerType == "smart_captcha" {
		return "yandex"
	}
	if strings.Contains(strings.ToLower(pageURL), "yandex") {
		return "yandex"
	}
	return "userrecaptcha"
}

// ExtractSiteKey pulls the sitekey out of a JSON-decoded response body
// using the candidate key list from spec.md §4.6.
func ExtractSiteKey(node map[string]any) (string, bool) {
	for _, key := range []string{"key", "sitekey", "captchaKey", "data-sitekey"} {
		if v, ok := node[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

type createResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

type resultResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and polls for a solution every 5s, bounded by
// min(120s, remaining-global-budget) (spec.md §4.6). It returns (token,
// true) on success, ("", false) on any failure — including a missing API
// key, a solver error, or exhausting the poll budget.
func (s *Solver) Solve(ctx context.Context, method, siteKey, pageURL string, deadline time.Time) (string, bool) {
	if s.cfg.APIKey == "" {
		metrics.ObserveCaptchaSolve(method, "no_api_key")
		return "", false
	}

	budget := time.Until(deadline)
	if budget > maxPollBudget {
		budget = maxPollBudget
	}
	if budget <= 0 {
		metrics.ObserveCaptchaSolve(method, "budget_exhausted")
		return "", false
	}

	requestID, ok := s.submit(ctx, method, siteKey, pageURL)
	if !ok {
		metrics.ObserveCaptchaSolve(method, "submit_failed")
		return "", false
	}

	pollDeadline := time.Now().Add(budget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.ObserveCaptchaSolve(method, "canceled")
			return "", false
		case <-ticker.C:
			if time.Now().After(pollDeadline) {
				metrics.ObserveCaptchaSolve(method, "poll_timeout")
				return "", false
			}
			token, done, ok := s.poll(ctx, requestID)
			if !ok {
				metrics.ObserveCaptchaSolve(method, "poll_failed")
				return "", false
			}
			if done {
				metrics.ObserveCaptchaSolve(method, "solved")
				return token, true
			}
		}
	}
}

func (s *Solver) submit(ctx context.Context, method, siteKey, pageURL string) (string, bool) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":     s.cfg.APIKey,
			"method":  method,
			"sitekey": siteKey,
			"pageurl": pageURL,
			"json":    "1",
		}).
		Post(s.cfg.Endpoint + createPath)
	if err != nil {
		s.logger.Warn("captcha: submit failed", zap.Error(err))
		return "", false
	}

	var parsed createResponse
	if jsonErr := json.Unmarshal(resp.Body(), &parsed); jsonErr != nil || parsed.Status != 1 {
		s.logger.Warn("captcha: submit rejected", zap.Int("status", parsed.Status))
		return "", false
	}
	return parsed.Request, true
}

func (s *Solver) poll(ctx context.Context, requestID string) (token string, done bool, ok bool) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    s.cfg.APIKey,
			"action": "get",
			"id":     requestID,
			"json":   "1",
		}).
		Get(s.cfg.Endpoint + resultPath)
	if err != nil {
		s.logger.Warn("captcha: poll failed", zap.Error(err))
		return "", false, false
	}

	var parsed resultResponse
	if jsonErr := json.Unmarshal(resp.Body(), &parsed); jsonErr != nil {
		return "", false, false
	}
	if parsed.Status == 1 {
		return parsed.Request, true, true
	}
	if parsed.Request == "CAPCHA_NOT_READY" {
		return "", false, true
	}
	s.logger.Warn("captcha: solver reported error", zap.String("request", parsed.Request))
	return "", false, false
}

// AnswerParam builds the query parameter the orchestrator must append when
// re-issuing the page request after a successful solve.
func AnswerParam(token string) (string, string) {
	return "captchaAnswer", token
}
