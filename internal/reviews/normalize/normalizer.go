package normalize

import "github.com/Laque-Maranda12/yandex-reviews/internal/reviews"

// Normalizer adapts the three independent strategy functions in this
// package to the reviews.Normalizer interface so callers can depend on the
// interface rather than the concrete functions.
type Normalizer struct{}

// New returns a Normalizer.
func New() Normalizer { return Normalizer{} }

func (Normalizer) FromJSON(orgID string, body []byte) (*reviews.FetchResult, bool) {
	return JSON(orgID, body)
}

func (Normalizer) FromEmbeddedState(orgID string, html []byte) (*reviews.FetchResult, bool) {
	return EmbeddedState(orgID, html)
}

func (Normalizer) FromDOM(html []byte) (*reviews.FetchResult, bool) {
	return DOM(html)
}
