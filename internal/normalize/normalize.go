// Package normalize maps raw search results onto the flat record schema of the sink.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/FranksOps/trawl/internal/search"
	"github.com/FranksOps/trawl/internal/storage"
)

// ResharePolicy decides what happens to items that reshare another item.
type ResharePolicy string

const (
	// ReshareKeep never filters. This matches the historical behavior, whose skip
	// check could not fire.
	ReshareKeep ResharePolicy = "keep"
	// ReshareSkip drops items flagged as reshares.
	ReshareSkip ResharePolicy = "skip"
)

// ParsePolicy maps a configuration value onto a policy. Empty selects ReshareKeep.
func ParsePolicy(s string) (ResharePolicy, error) {
	switch ResharePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReshareKeep:
		return ReshareKeep, nil
	case ReshareSkip:
		return ReshareSkip, nil
	default:
		return "", fmt.Errorf("normalize: unknown reshare policy %q", s)
	}
}

var linkPattern = regexp.MustCompile(`http\S+`)

// Context carries the run-level values copied onto every record.
type Context struct {
	RunID         string
	SourceID      string
	TriggerTime   time.Time
	ExecutionTime time.Time
	Query         string
	Language      string
}

// Normalizer is a pure mapping from RawItem to storage.Record.
type Normalizer struct {
	Policy ResharePolicy
}

// Normalize converts one item. keep is false when the policy filters the item out.
func (n Normalizer) Normalize(item search.RawItem, c Context) (rec storage.Record, keep bool) {
	if item.Reshared && n.Policy == ReshareSkip {
		return storage.Record{}, false
	}

	var parent *string
	if item.ParentID != nil {
		p := *item.ParentID
		parent = &p
	}

	return storage.Record{
		RunID:         c.RunID,
		SourceID:      c.SourceID,
		TriggerTime:   c.TriggerTime,
		ExecutionTime: c.ExecutionTime,
		PublishedTime: item.CreatedAt.UTC(),
		ItemID:        item.ID,
		ParentItemID:  parent,
		Keywords:      c.Query,
		Text:          StripLinks(item.FullText),
		ShareCount:    item.ShareCount,
		FavoriteCount: item.FavoriteCount,
		MediaLinks:    MediaLinks(item.Media),
		Language:      c.Language,
	}, true
}

// NormalizeAll converts items in the order given.
func (n Normalizer) NormalizeAll(items []search.RawItem, c Context) []*storage.Record {
	out := make([]*storage.Record, 0, len(items))
	for _, item := range items {
		rec, keep := n.Normalize(item, c)
		if !keep {
			continue
		}
		out = append(out, &rec)
	}
	return out
}

// StripLinks removes every token starting with "http". Surrounding whitespace is kept.
func StripLinks(text string) string {
	return linkPattern.ReplaceAllString(text, "")
}

// MediaLinks joins the expanded URLs with a single space. Entries without a URL are skipped.
func MediaLinks(media []search.Media) string {
	if len(media) == 0 {
		return ""
	}
	links := make([]string, 0, len(media))
	for _, m := range media {
		if m.ExpandedURL == "" {
			continue
		}
		links = append(links, m.ExpandedURL)
	}
	return strings.Join(links, " ")
}
