package search

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth is returned when the credentials cannot be verified.
	ErrAuth = errors.New("authentication failed")
	// ErrFetch is returned on transport or API-level failure of a search request.
	ErrFetch = errors.New("fetch failed")
)

// MaxCount is the largest page the search endpoint serves in one request.
const MaxCount = 100

// ClampCount bounds a requested count to [1, MaxCount].
func ClampCount(n int) int {
	if n > MaxCount {
		return MaxCount
	}
	if n < 1 {
		return 1
	}
	return n
}

// Credentials are the four OAuth1 values needed to act as a user.
type Credentials struct {
	APIKey            string
	APISecretKey      string
	AccessToken       string
	AccessTokenSecret string
}

// Query describes one bounded search request.
type Query struct {
	Text       string
	Language   string
	ResultType string // popular, mixed or recent
	Count      int
}

// Media is one attached media entity.
type Media struct {
	ExpandedURL string
}

// RawItem is a search result as returned by the API, before normalization.
type RawItem struct {
	ID            string
	ParentID      *string
	CreatedAt     time.Time
	FullText      string
	ShareCount    int
	FavoriteCount int
	// Media is nil when the item declares no media entities.
	Media []Media
	// Reshared is set when the item is a reshare of another item.
	Reshared bool
}

// Searcher authenticates once per run and performs bounded searches with the session.
type Searcher interface {
	Authenticate(ctx context.Context, creds Credentials) (*Session, error)
	Search(ctx context.Context, session *Session, q Query) ([]RawItem, error)
}
