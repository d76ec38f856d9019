package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMethod(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "yandex", DetectMethod("smartCaptcha", "https://reviews.example.com"))
	assert.Equal(t, "yandex", DetectMethod("", "https://yandex.ru/maps/org/1"))
	assert.Equal(t, "userrecaptcha", DetectMethod("recaptcha", "https://example.com"))
}

func TestExtractSiteKey(t *testing.T) {
	t.Parallel()
	key, ok := ExtractSiteKey(map[string]any{"sitekey": "abc123"})
	require.True(t, ok)
	assert.Equal(t, "abc123", key)

	_, ok = ExtractSiteKey(map[string]any{"other": "x"})
	assert.False(t, ok)
}

func TestSolveFailsImmediatelyWithoutAPIKey(t *testing.T) {
	t.Parallel()
	s := New(Config{})
	token, ok := s.Solve(context.Background(), "userrecaptcha", "sk", "https://x", time.Now().Add(time.Minute))
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestSolveSucceedsAfterPolling(t *testing.T) {
	t.Parallel()

	pollCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			w.Write([]byte(`{"status":1,"request":"req-1"}`))
		case "/res.php":
			pollCount++
			if pollCount < 2 {
				w.Write([]byte(`{"status":0,"request":"CAPCHA_NOT_READY"}`))
				return
			}
			w.Write([]byte(`{"status":1,"request":"solved-token"}`))
		}
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", Endpoint: srv.URL, Client: resty.New()})

	token, ok := s.Solve(context.Background(), "userrecaptcha", "sk", srv.URL, time.Now().Add(20*time.Second))
	require.True(t, ok)
	assert.Equal(t, "solved-token", token)
}

func TestAnswerParam(t *testing.T) {
	t.Parallel()
	key, val := AnswerParam("tok")
	assert.Equal(t, "captchaAnswer", key)
	assert.Equal(t, "tok", val)
}
