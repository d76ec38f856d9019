package normalize

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

var orgTitleSelectors = []string{
	"h1[itemprop=name]", "h1.orgpage-header-view__header",
	"h1.business-card-title-view__title", "h1.card-title-view__title",
	"meta[property='og:title']", "title", "h1",
}

var reviewBlockSelectors = []string{
	"div.business-review-view", "div[class*=review-view]",
	"div.review-card", "li.review-item", "div[itemprop=review]",
	"div.reviews-list__item", "article.review", "div[class*=Review]",
}

var authorSelectors = []string{
	"span[itemprop=name]", "span.business-review-view__author-name",
	"a.business-review-view__link", "div.review-card__author",
	"span.review-author-name", "div[class*=author-name]",
	"span[class*=AuthorName]", "div.user-name", "span.name",
	"a[class*=author]", "span[class*=author]",
}

var textSelectors = []string{
	"span.business-review-view__body-text", "div.review-card__text",
	"p[itemprop=reviewBody]", "div[class*=review-text]",
	"span[class*=ReviewText]", "div.review-body", "p.review-text",
	"div[class*=text]",
}

var dateClassSelectors = []string{
	"span.business-review-view__date", "div.review-card__date",
	"span[class*=review-date]", "time",
}

var starFullClassRe = regexp.MustCompile(`(?i)(star|rating).*(full|active|filled)`)
var ratingFromTextRe = regexp.MustCompile(`(\d)\s*(?:из|/)\s*5`)

// DOM implements the CSS-selector based fallback strategy (spec.md §4.5c).
func DOM(html []byte) (*reviews.FetchResult, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, false
	}

	result := &reviews.FetchResult{
		OrganizationName: firstMatchingText(doc, orgTitleSelectors, 2, 199),
	}

	var blocks *goquery.Selection
	for _, sel := range reviewBlockSelectors {
		found := doc.Find(sel)
		if found.Length() > 0 {
			blocks = found
			break
		}
	}
	if blocks == nil {
		return nil, false
	}

	blocks.Each(func(_ int, block *goquery.Selection) {
		result.Reviews = append(result.Reviews, reviewFromBlock(block))
	})
	if len(result.Reviews) == 0 {
		return nil, false
	}
	return result, true
}

func firstMatchingText(doc *goquery.Document, selectors []string, minLen, maxLen int) string {
	for _, sel := range selectors {
		sNode := doc.Find(sel).First()
		if sNode.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(sNode.Text())
		if sel == "meta[property='og:title']" {
			if content, ok := sNode.Attr("content"); ok {
				text = strings.TrimSpace(content)
			}
		}
		if len(text) >= minLen && len(text) <= maxLen {
			return text
		}
	}
	return ""
}

func reviewFromBlock(block *goquery.Selection) reviews.RawReview {
	rr := reviews.RawReview{}

	author := ""
	for _, sel := range authorSelectors {
		if node := block.Find(sel).First(); node.Length() > 0 {
			if t := strings.TrimSpace(node.Text()); t != "" {
				author = t
				break
			}
		}
	}
	rr.AuthorName = reviews.CleanAuthorName(author)

	if r := ratingFromBlock(block); r != nil {
		rr.Rating = r
	}

	for _, sel := range textSelectors {
		if node := block.Find(sel).First(); node.Length() > 0 {
			if t := strings.TrimSpace(node.Text()); len(t) > 5 {
				rr.Text = &t
				break
			}
		}
	}

	if pub := dateFromBlock(block); pub != nil {
		rr.PublishedAt = pub
	}

	return rr
}

func ratingFromBlock(block *goquery.Selection) *int {
	if n := block.Find("[class*=star]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return starFullClassRe.MatchString(class)
	}).Length(); n >= 1 && n <= 5 {
		return &n
	}

	ratingContainer := block.Find("[aria-label], [title]").First()
	if ratingContainer.Length() > 0 {
		label, _ := ratingContainer.Attr("aria-label")
		if label == "" {
			label, _ = ratingContainer.Attr("title")
		}
		if m := ratingFromTextRe.FindStringSubmatch(label); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 5 {
				return &n
			}
		}
	}

	for _, attr := range []string{"data-value", "data-rating", "data-score"} {
		if v, ok := block.Attr(attr); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 1 && n <= 5 {
				return &n
			}
		}
	}

	if node := block.Find("[itemprop=ratingValue]").First(); node.Length() > 0 {
		text := strings.TrimSpace(node.Text())
		if v, ok := node.Attr("content"); ok {
			text = v
		}
		if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= 5 {
			return &n
		}
	}

	if n := block.Find("[class*=_full]").Length(); n > 0 {
		clamped := n
		if clamped > 5 {
			clamped = 5
		}
		if clamped < 1 {
			clamped = 1
		}
		return &clamped
	}

	return nil
}

func dateFromBlock(block *goquery.Selection) *time.Time {
	if node := block.Find("time[datetime]").First(); node.Length() > 0 {
		if dt, ok := node.Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				return &t
			}
		}
	}
	if node := block.Find("[itemprop=datePublished]").First(); node.Length() > 0 {
		text := strings.TrimSpace(node.Text())
		if content, ok := node.Attr("content"); ok && content != "" {
			text = content
		}
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			return &t
		}
		t := reviews.ParseRussianDate(text, time.Now())
		return &t
	}
	for _, sel := range dateClassSelectors {
		if node := block.Find(sel).First(); node.Length() > 0 {
			text := strings.TrimSpace(node.Text())
			if text != "" {
				t := reviews.ParseRussianDate(text, time.Now())
				return &t
			}
		}
	}
	now := time.Now()
	return &now
}
