package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/trawl/pkg/httpclient"
	"github.com/dghubble/oauth1"
)

// DefaultBaseURL is the v1.1 REST API host.
const DefaultBaseURL = "https://api.twitter.com"

const (
	verifyPath = "/1.1/account/verify_credentials.json"
	searchPath = "/1.1/search/tweets.json"

	// createdAtLayout is the timestamp format of the v1.1 API.
	createdAtLayout = time.RubyDate

	errorExcerptLen = 512
)

// ensure Client implements Searcher
var _ Searcher = (*Client)(nil)

// Client talks to the v1.1 standard search API.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// Session is an authenticated handle valid for one run.
type Session struct {
	ScreenName string

	signed *httpclient.Client
	base   *httpclient.Client
}

// Close releases the idle connections held for the session.
func (s *Session) Close() {
	if s == nil || s.base == nil {
		return
	}
	s.base.CloseIdleConnections()
}

// NewClient creates a search client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, hc *httpclient.Client, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("search: invalid base url: %w", err)
	}
	if hc == nil {
		var err error
		if hc, err = httpclient.New(httpclient.Config{}); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}, nil
}

// Authenticate builds an OAuth1-signed session and verifies it against the API.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.APIKey == "" || creds.APISecretKey == "" || creds.AccessToken == "" || creds.AccessTokenSecret == "" {
		return nil, fmt.Errorf("%w: incomplete credentials", ErrAuth)
	}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecretKey)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)

	// oauth1 signs on top of the transport found in the context client, which keeps
	// the configured TLS profile and proxy in the chain.
	signedHTTP := config.Client(context.WithValue(ctx, oauth1.HTTPClient, c.http.Client), token)
	session := &Session{
		signed: c.http.WithTransport(signedHTTP.Transport),
		base:   c.http,
	}

	var account struct {
		ScreenName string `json:"screen_name"`
	}
	q := url.Values{"skip_status": {"true"}, "include_entities": {"false"}}
	status, body, err := c.get(ctx, session.signed, verifyPath, q)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if status != http.StatusOK {
		session.Close()
		return nil, fmt.Errorf("%w: verify credentials returned %d: %s", ErrAuth, status, excerpt(body))
	}
	if err := json.Unmarshal(body, &account); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: decode account: %w", ErrAuth, err)
	}

	session.ScreenName = account.ScreenName
	c.logger.Debug("search session verified", "screen_name", account.ScreenName)
	return session, nil
}

type apiStatus struct {
	IDStr                string  `json:"id_str"`
	InReplyToStatusIDStr *string `json:"in_reply_to_status_id_str"`
	CreatedAt            string  `json:"created_at"`
	FullText             string  `json:"full_text"`
	RetweetCount         int     `json:"retweet_count"`
	FavoriteCount        int     `json:"favorite_count"`
	Entities             struct {
		Media []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"media"`
	} `json:"entities"`
	RetweetedStatus json.RawMessage `json:"retweeted_status"`
}

type searchResponse struct {
	Statuses []apiStatus `json:"statuses"`
}

// Search performs one bounded search request. Items are returned in API order.
func (c *Client) Search(ctx context.Context, session *Session, q Query) ([]RawItem, error) {
	if session == nil || session.signed == nil {
		return nil, fmt.Errorf("%w: no authenticated session", ErrFetch)
	}
	if q.Count < 1 || q.Count > MaxCount {
		return nil, fmt.Errorf("%w: count %d outside 1..%d", ErrFetch, q.Count, MaxCount)
	}

	params := url.Values{
		"q":                {q.Text},
		"result_type":      {q.ResultType},
		"count":            {strconv.Itoa(q.Count)},
		"tweet_mode":       {"extended"},
		"include_entities": {"true"},
	}
	if q.Language != "" {
		params.Set("lang", q.Language)
	}

	status, body, err := c.get(ctx, session.signed, searchPath, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: search returned %d: %s", ErrFetch, status, excerpt(body))
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %w", ErrFetch, err)
	}

	items := make([]RawItem, 0, len(resp.Statuses))
	for _, s := range resp.Statuses {
		item, err := s.toRawItem()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		items = append(items, item)
	}

	c.logger.Debug("search completed", "query", q.Text, "items", len(items))
	return items, nil
}

func (s apiStatus) toRawItem() (RawItem, error) {
	created, err := time.Parse(createdAtLayout, s.CreatedAt)
	if err != nil {
		return RawItem{}, fmt.Errorf("item %s: bad created_at %q: %w", s.IDStr, s.CreatedAt, err)
	}

	item := RawItem{
		ID:            s.IDStr,
		ParentID:      s.InReplyToStatusIDStr,
		CreatedAt:     created,
		FullText:      s.FullText,
		ShareCount:    s.RetweetCount,
		FavoriteCount: s.FavoriteCount,
		Reshared:      len(s.RetweetedStatus) > 0 && string(s.RetweetedStatus) != "null",
	}
	if s.Entities.Media != nil {
		item.Media = make([]Media, 0, len(s.Entities.Media))
		for _, m := range s.Entities.Media {
			item.Media = append(item.Media, Media{ExpandedURL: m.ExpandedURL})
		}
	}
	return item, nil
}

func (c *Client) get(ctx context.Context, hc *httpclient.Client, path string, q url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// excerpt returns the trimmed body cut on a rune boundary near errorExcerptLen bytes.
func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= errorExcerptLen {
		return s
	}
	cut := errorExcerptLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
