package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const embeddedFixture = `<!DOCTYPE html>
<html>
<head><title>Kofe Haus — отзывы</title></head>
<body>
<script>
window.__PRELOADED_STATE__ = {"business": {"id": "org-1", "name": "Kofe Haus", "reviews": [{"reviewId": "rev-9", "author": {"name": "Мария"}, "rating": 4, "text": "Уютное кафе, вкусный кофе"}]}, "other": {"nested": true}};
</script>
</body>
</html>`

func TestEmbeddedStateExtractsKnownStateName(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, embeddedFixture)
	result, ok := EmbeddedState("org-1", body)
	require.True(t, ok)

	assert.Equal(t, "Kofe Haus", result.OrganizationName)
	require.Len(t, result.Reviews, 1)
	assert.Equal(t, "Мария", result.Reviews[0].AuthorName)
	require.NotNil(t, result.Reviews[0].Rating)
	assert.Equal(t, 4, *result.Reviews[0].Rating)
}

func TestEmbeddedStateFindsUnknownWindowAssignment(t *testing.T) {
	t.Parallel()

	fixture := `<script>
window.__APP_DATA__ = {"store": {"reviews": [{"reviewId": "1", "author": {"name": "Олег"}, "text": "хорошо, рекомендую"}]}};
</script>`
	body := fetchFixture(t, fixture)
	result, ok := EmbeddedState("org-1", body)
	require.True(t, ok)
	require.Len(t, result.Reviews, 1)
	assert.Equal(t, "Олег", result.Reviews[0].AuthorName)
}

func TestEmbeddedStateToleratesBracesInsideStringValues(t *testing.T) {
	t.Parallel()

	fixture := `<script>
window.__PRELOADED_STATE__ = {"business": {"name": "Place { with brace }"}, "reviews": [{"reviewId": "1", "author": {"name": "Петр"}, "text": "все супер {нормально}"}]};
</script>`
	body := fetchFixture(t, fixture)
	result, ok := EmbeddedState("org-1", body)
	require.True(t, ok)
	require.Len(t, result.Reviews, 1)
	require.NotNil(t, result.Reviews[0].Text)
	assert.Contains(t, *result.Reviews[0].Text, "нормально")
}

func TestEmbeddedStateReturnsFalseWithoutWindowAssignment(t *testing.T) {
	t.Parallel()

	body := fetchFixture(t, `<html><body><p>no state here</p></body></html>`)
	_, ok := EmbeddedState("org-1", body)
	assert.False(t, ok)
}
