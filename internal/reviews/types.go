// Package reviews defines the core types shared across the review
// acquisition engine subsystems.
package reviews

import "time"

// HostTag identifies which upstream mirror hostname a Source was parsed
// against.
type HostTag string

// Recognized mirror hosts.
const (
	HostRU  HostTag = "ru"
	HostCOM HostTag = "com"
)

// Source is one user-owned registration of an organization URL.
type Source struct {
	ID               string
	UserID           string
	URL              string
	HostTag          HostTag
	OrganizationName *string
	Rating           *float64
	TotalReviews     int
	LastSyncedAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Review belongs to exactly one Source.
type Review struct {
	ID          string
	SourceID    string
	YandexID    *string
	AuthorName  string
	AuthorPhone *string
	Rating      *int
	Text        *string
	BranchName  *string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnonymousAuthorPlaceholder is substituted whenever upstream omits an
// author display name.
const AnonymousAuthorPlaceholder = "Аноним"

// RawReview is the normalized-but-unsanitized shape produced by the
// Response Normalizer, prior to the Materializer's sanitization pass.
type RawReview struct {
	YandexID    *string
	AuthorName  string
	Rating      *int
	Text        *string
	BranchName  *string
	PublishedAt *time.Time
}

// FetchResult is assembled by the Fan-out Orchestrator across every
// (endpoint, sort, rating-filter) pass it runs.
type FetchResult struct {
	OrganizationName string
	Rating           *float64
	TotalReviews     int
	Reviews          []RawReview
}

// ParsedOrgID is the outcome of a successful URL Parser run.
type ParsedOrgID struct {
	OrgID   string
	HostTag HostTag
	Slug    string
}

// ValidationError is returned by the URL Parser and mapped by callers to a
// user-visible 422-class failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "yandex-reviews: validation failed: " + e.Reason
}
