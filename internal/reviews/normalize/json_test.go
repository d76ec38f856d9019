package normalize

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonFixture = `{
	"data": {
		"businessName": "Kofe Haus",
		"reviews": [
			{
				"reviewId": "rev-1",
				"author": {"name": "Иван П."},
				"rating": 5,
				"text": "Отличное место",
				"updatedTime": "2024-03-01T10:00:00Z"
			},
			{
				"reviewId": "rev-2",
				"author": {"name": "Анна"},
				"rating": 3,
				"text": "Неплохо"
			}
		],
		"totalCount": 2
	}
}`

func fetchFixture(t *testing.T, body string) []byte {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func TestJSONParsesReviewArrayUnderDataPath(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, jsonFixture)
	result, ok := JSON("org-1", body)
	require.True(t, ok)

	assert.Equal(t, "Kofe Haus", result.OrganizationName)
	assert.Equal(t, 2, result.TotalReviews)
	require.Len(t, result.Reviews, 2)

	first := result.Reviews[0]
	assert.Equal(t, "Иван П.", first.AuthorName)
	require.NotNil(t, first.Rating)
	assert.Equal(t, 5, *first.Rating)
	require.NotNil(t, first.Text)
	assert.Equal(t, "Отличное место", *first.Text)
	require.NotNil(t, first.YandexID)
	assert.Equal(t, "rev-1", *first.YandexID)
	require.NotNil(t, first.PublishedAt)
}

func TestJSONReturnsFalseWithoutRecognizableReviewArray(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, `{"status": "ok", "items": []}`)
	_, ok := JSON("org-1", body)
	assert.False(t, ok)
}

func TestJSONReturnsFalseOnMalformedBody(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, `not json at all`)
	_, ok := JSON("org-1", body)
	assert.False(t, ok)
}

func TestJSONScalesTenPointRatingToFiveStars(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, `{"reviews": [{"reviewId": "1", "author": {"name": "X"}, "rating": 8, "text": "ok text here"}]}`)
	result, ok := JSON("org-1", body)
	require.True(t, ok)
	require.Len(t, result.Reviews, 1)
	require.NotNil(t, result.Reviews[0].Rating)
	assert.Equal(t, 4, *result.Reviews[0].Rating)
}
