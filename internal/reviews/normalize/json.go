// Package normalize implements the Response Normalizer (spec.md §4.5): three
// independent strategies that unify the JSON endpoint, embedded page state,
// and DOM payload shapes into a single internal FetchResult.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

var reviewArrayPaths = [][]string{
	{"reviews"}, {"items"}, {"comments"}, {"businessReviews"},
	{"data", "reviews"}, {"data", "items"}, {"data", "comments"}, {"data", "businessReviews"},
	{"result", "reviews"}, {"result", "items"}, {"result", "comments"},
	{"response", "reviews"}, {"response", "items"}, {"response", "comments"},
	{"data"},
}

var reviewSignatureKeys = []string{"text", "author", "rating", "reviewId", "comment", "body", "updatedTime", "stars"}

var datePublishedKeys = []string{
	"updatedTime", "time", "date", "createdTime", "publishedTime", "created",
	"updated", "datePublished", "createdAt", "publishedAt", "dateCreated", "timestamp",
}

var totalCountKeys = []string{"totalCount", "reviewCount", "totalReviews", "reviewsCount", "ratingCount", "total"}
var totalCountNestedPaths = [][]string{
	{"pager"}, {"data"}, {"meta"}, {"pagination", "total"},
}
var ratingKeys = []string{"value", "score", "average"}

const maxDeepScanDepth = 6

// JSON implements the JSON-endpoint strategy (spec.md §4.5a).
func JSON(orgID string, body []byte) (*reviews.FetchResult, bool) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, false
	}

	arr, ok := findReviewArray(root)
	if !ok {
		arr, ok = deepFindReviewArray(root, 0)
		if !ok {
			return nil, false
		}
	}

	result := &reviews.FetchResult{
		OrganizationName: stringAtFirstPath(root, [][]string{{"businessName"}, {"orgName"}, {"name"}, {"data", "businessName"}, {"data", "orgName"}, {"data", "name"}}),
		TotalReviews:     findTotalCount(root),
		Rating:           findTopLevelRating(root),
	}

	for _, raw := range arr {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		result.Reviews = append(result.Reviews, reviewFromJSONNode(node))
	}
	return result, true
}

func findReviewArray(root any) ([]any, bool) {
	for _, path := range reviewArrayPaths {
		node := atPath(root, path)
		if arr, ok := node.([]any); ok && len(arr) > 0 && looksLikeReview(arr[0]) {
			return arr, true
		}
	}
	return nil, false
}

func deepFindReviewArray(node any, depth int) ([]any, bool) {
	if depth > maxDeepScanDepth {
		return nil, false
	}
	switch v := node.(type) {
	case []any:
		if len(v) > 0 && looksLikeReview(v[0]) {
			return v, true
		}
		for _, child := range v {
			if arr, ok := deepFindReviewArray(child, depth+1); ok {
				return arr, true
			}
		}
	case map[string]any:
		for _, child := range v {
			if arr, ok := deepFindReviewArray(child, depth+1); ok {
				return arr, true
			}
		}
	}
	return nil, false
}

func looksLikeReview(node any) bool {
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	for _, key := range reviewSignatureKeys {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

func atPath(root any, path []string) any {
	cur := root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func stringAtFirstPath(root any, paths [][]string) string {
	for _, p := range paths {
		if s, ok := atPath(root, p).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func reviewFromJSONNode(node map[string]any) reviews.RawReview {
	rr := reviews.RawReview{}

	author := stringAtFirstPath(node, [][]string{{"author", "name"}, {"author", "displayName"}, {"author", "publicName"}, {"author", "login"}})
	if author == "" {
		author = stringAtFirstPath(node, [][]string{{"authorName"}, {"userName"}, {"displayName"}})
	}
	rr.AuthorName = reviews.CleanAuthorName(author)

	if r := ratingFromNode(node); r != nil {
		rr.Rating = r
	}

	if text := stringAtFirstPath(node, [][]string{{"text"}, {"comment"}, {"body"}, {"reviewBody"}}); text != "" {
		rr.Text = &text
	}

	if branch := stringAtFirstPath(node, [][]string{{"businessName"}, {"branchName"}, {"orgName"}}); branch != "" {
		rr.BranchName = &branch
	}

	if pub, ok := datePublishedFromNode(node); ok {
		rr.PublishedAt = &pub
	}

	if id := idFromNode(node); id != "" {
		rr.YandexID = &id
	}

	return rr
}

func idFromNode(node map[string]any) string {
	for _, key := range []string{"reviewId", "id"} {
		switch v := node[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func ratingFromNode(node map[string]any) *int {
	if v, ok := node["rating"]; ok {
		if r, ok := numericRating(v); ok {
			return &r
		}
		if m, ok := v.(map[string]any); ok {
			for _, key := range ratingKeys {
				if r, ok := numericRating(m[key]); ok {
					return &r
				}
			}
		}
	}
	for _, key := range []string{"stars", "score", "mark", "value"} {
		if r, ok := numericRating(node[key]); ok {
			return &r
		}
	}
	return nil
}

func numericRating(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if f >= 1 && f <= 5 && f == math.Trunc(f) {
		return int(f), true
	}
	if f > 5 && f <= 10 {
		scaled := math.Round(f / 2)
		if scaled < 1 {
			scaled = 1
		}
		if scaled > 5 {
			scaled = 5
		}
		return int(scaled), true
	}
	return 0, false
}

func datePublishedFromNode(node map[string]any) (time.Time, bool) {
	for _, key := range datePublishedKeys {
		v, ok := node[key]
		if !ok {
			continue
		}
		if t, ok := parseDateValue(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case float64:
		if val > 1e12 {
			return time.UnixMilli(int64(val)), true
		}
		if val > 0 {
			return time.Unix(int64(val), 0), true
		}
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			if ms > 1e12 {
				return time.UnixMilli(ms), true
			}
			return time.Unix(ms, 0), true
		}
		t := reviews.ParseRussianDate(val, time.Now())
		return t, true
	}
	return time.Time{}, false
}

func findTotalCount(root any) int {
	if n := totalCountFromNode(root); n > 0 {
		return n
	}
	for _, path := range totalCountNestedPaths {
		node := atPath(root, path)
		if f, ok := node.(float64); ok && f > 0 {
			return int(f)
		}
		if n := totalCountFromNode(node); n > 0 {
			return n
		}
	}
	return deepFindTotalCount(root, 0)
}

func totalCountFromNode(node any) int {
	m, ok := node.(map[string]any)
	if !ok {
		return 0
	}
	max := 0
	for _, key := range totalCountKeys {
		if f, ok := m[key].(float64); ok {
			if n := int(f); n > max {
				max = n
			}
		}
	}
	return max
}

func deepFindTotalCount(node any, depth int) int {
	if depth > maxDeepScanDepth {
		return 0
	}
	best := totalCountFromNode(node)
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			if n := deepFindTotalCount(child, depth+1); n > best {
				best = n
			}
		}
	case []any:
		for _, child := range v {
			if n := deepFindTotalCount(child, depth+1); n > best {
				best = n
			}
		}
	}
	return best
}

func findTopLevelRating(root any) *float64 {
	m, ok := root.(map[string]any)
	if !ok {
		return deepFindRating(root, 0)
	}
	if v, ok := m["rating"]; ok {
		if r, ok := ratingAsFloat(v); ok {
			return &r
		}
	}
	return deepFindRating(root, 0)
}

func ratingAsFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case map[string]any:
		for _, key := range ratingKeys {
			if f, ok := val[key].(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func deepFindRating(node any, depth int) *float64 {
	if depth > maxDeepScanDepth {
		return nil
	}
	switch v := node.(type) {
	case map[string]any:
		for _, key := range append([]string{"rating"}, ratingKeys...) {
			if f, ok := v[key].(float64); ok && f > 0 && f <= 10 {
				return &f
			}
		}
		for _, child := range v {
			if r := deepFindRating(child, depth+1); r != nil {
				return r
			}
		}
	case []any:
		for _, child := range v {
			if r := deepFindRating(child, depth+1); r != nil {
				return r
			}
		}
	}
	return nil
}
