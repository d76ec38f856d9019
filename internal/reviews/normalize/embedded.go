package normalize

import (
	"encoding/json"
	"regexp"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

var knownStateNames = []string{"__PRELOADED_STATE__", "__INITIAL_STATE__", "__INITIAL_DATA__"}

var windowAssignmentRe = regexp.MustCompile(`window\.([A-Za-z0-9_]+)\s*=\s*\{`)

// EmbeddedState implements the embedded-page-state strategy (spec.md
// §4.5b). It locates `window.<NAME> = { ... }` assignments and extracts
// the JSON object by brace-counting with string-aware escape tracking —
// a plain regex cannot safely bound a payload containing nested braces and
// escaped quotes inside string literals.
func EmbeddedState(orgID string, html []byte) (*reviews.FetchResult, bool) {
	text := string(html)

	for _, name := range knownStateNames {
		if obj, ok := extractAssignment(text, name); ok {
			if result, ok := parseEmbeddedObject(orgID, obj); ok {
				return result, true
			}
		}
	}

	for _, match := range windowAssignmentRe.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if containsName(knownStateNames, name) {
			continue
		}
		if obj, ok := extractAssignment(text, name); ok {
			if result, ok := parseEmbeddedObject(orgID, obj); ok {
				return result, true
			}
		}
	}

	return nil, false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// extractAssignment finds `window.<name> = {` and returns the balanced
// `{...}` object text that follows, tracking string literals (and their
// escapes) so that braces inside JSON string values never desync the
// brace counter.
func extractAssignment(text, name string) (string, bool) {
	needleRe := regexp.MustCompile(`window\.` + regexp.QuoteMeta(name) + `\s*=\s*\{`)
	loc := needleRe.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	start := loc[1] - 1 // position of the opening '{'

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		default:
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

var embeddedReviewArrayPaths = [][]string{
	{"reviews"}, {"reviewItems"}, {"businessReviews"},
	{"data", "reviews"}, {"store", "reviews"}, {"result", "reviews"},
	{"entities", "reviews"}, {"data", "items"}, {"items"},
}

func parseEmbeddedObject(orgID, objText string) (*reviews.FetchResult, bool) {
	var root any
	if err := json.Unmarshal([]byte(objText), &root); err != nil {
		return nil, false
	}

	businessNode := findBusinessNode(root, orgID, 0)
	orgName := ""
	if businessNode != nil {
		orgName = stringAtFirstPath(businessNode, [][]string{{"name"}, {"title"}})
	}

	var arr []any
	var ok bool
	for _, path := range embeddedReviewArrayPaths {
		node := atPath(root, path)
		if a, isArr := node.([]any); isArr && len(a) > 0 && looksLikeReview(a[0]) {
			arr = a
			ok = true
			break
		}
	}
	if !ok {
		arr, ok = deepFindReviewArray(root, 0)
		if !ok {
			return nil, false
		}
	}

	result := &reviews.FetchResult{
		OrganizationName: orgName,
		TotalReviews:     findTotalCount(root),
		Rating:           findTopLevelRating(root),
	}
	for _, raw := range arr {
		if node, ok := raw.(map[string]any); ok {
			result.Reviews = append(result.Reviews, reviewFromJSONNode(node))
		}
	}
	return result, true
}

const embeddedBusinessDepth = 5

// findBusinessNode performs a bounded-depth recursive descent looking for a
// business node whose id matches orgID anywhere within the depth bound,
// falling back to an object carrying a name/title field. Among fallbacks an
// enclosing object wins over its descendants; the choice among sibling map
// keys follows map iteration order.
func findBusinessNode(node any, orgID string, depth int) map[string]any {
	if depth > embeddedBusinessDepth {
		return nil
	}
	m, ok := node.(map[string]any)
	if ok {
		if id := idFromNode(m); id != "" && id == orgID {
			return m
		}
	}
	var fallback map[string]any
	switch v := node.(type) {
	case map[string]any:
		if fallback == nil {
			if _, hasName := v["name"]; hasName {
				fallback = v
			} else if _, hasTitle := v["title"]; hasTitle {
				fallback = v
			}
		}
		for _, child := range v {
			if found := findBusinessNode(child, orgID, depth+1); found != nil {
				if idFromNode(found) == orgID {
					return found
				}
				if fallback == nil {
					fallback = found
				}
			}
		}
	case []any:
		for _, child := range v {
			if found := findBusinessNode(child, orgID, depth+1); found != nil {
				if idFromNode(found) == orgID {
					return found
				}
				if fallback == nil {
					fallback = found
				}
			}
		}
	}
	return fallback
}
