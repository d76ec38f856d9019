package reviews

import (
	"regexp"
	"strings"
)

// badgePatterns strips concatenated upstream reviewer badge text
// (spec.md §4.5 "Author cleaner"). Each pattern is anchored to a
// whitespace/string boundary so it never corrupts a name that merely
// contains the substring (e.g. "Эксперт-криминалист").
var badgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)Знаток города \d+ уровня(\s|$)`),
	regexp.MustCompile(`(^|\s)Активный автор(\s|$)`),
	regexp.MustCompile(`(^|\s)Местный эксперт(\s|$)`),
	regexp.MustCompile(`(^|\s)Эксперт \d+ уровня(\s|$)`),
	regexp.MustCompile(`(^|\s)Новичок(\s|$)`),
	regexp.MustCompile(`(^|\s)\d+ отзыв[а-я]*(\s|$)`),
	regexp.MustCompile(`(^|\s)\d+ оцен[а-я]*(\s|$)`),
	regexp.MustCompile(`(^|\s)\d+ фото[а-я]*(\s|$)`),
}

var collapseWhitespaceRe = regexp.MustCompile(`\s+`)

// CleanAuthorName strips badge text, collapses internal whitespace, and
// falls back to the anonymous placeholder when nothing recognizable
// remains.
func CleanAuthorName(raw string) string {
	s := raw
	for _, pattern := range badgePatterns {
		for {
			next := pattern.ReplaceAllString(s, "$1$2")
			if next == s {
				break
			}
			s = next
		}
	}
	s = collapseWhitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return AnonymousAuthorPlaceholder
	}
	return s
}
