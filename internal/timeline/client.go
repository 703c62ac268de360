// Package timeline is a minimal client for a Twitter-style REST API,
// covering the two read endpoints the poller needs: user timelines and list
// timelines, both paged by since_id.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/seabird/chitter/internal/domain"
)

const defaultBaseURL = "https://api.twitter.com/1.1"

// Client fetches timelines with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ domain.Timeline = (*Client)(nil)

// NewClient creates a timeline client. If baseURL is empty, it defaults to
// the public API host.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPosts returns posts newer than sinceID for the given source. A 429
// response maps to domain.ErrRateLimited.
func (c *Client) FetchPosts(ctx context.Context, src domain.Source, sinceID int64, pageSize int) ([]domain.Post, error) {
	endpoint, query := c.endpoint(src)
	if sinceID > 0 {
		query.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	query.Set("count", strconv.Itoa(pageSize))

	var statuses []status
	if err := c.get(ctx, endpoint, query, &statuses); err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, len(statuses))
	for _, st := range statuses {
		posts = append(posts, toPost(st))
	}
	return posts, nil
}

func (c *Client) endpoint(src domain.Source) (string, url.Values) {
	query := url.Values{}
	if src.Slug != "" {
		query.Set("owner_screen_name", src.User)
		query.Set("slug", src.Slug)
		return "/lists/statuses.json", query
	}
	query.Set("screen_name", src.User)
	return "/statuses/user_timeline.json", query
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", path, domain.ErrRateLimited)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// status mirrors the wire shape of one tweet, including the nested originals
// behind retweets and quotes.
type status struct {
	ID   int64 `json:"id"`
	User struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Text     string `json:"text"`
	Entities struct {
		URLs []struct {
			ExpandedURL string `json:"expanded_url"`
		} `json:"urls"`
	} `json:"entities"`
	RetweetedStatus *status `json:"retweeted_status"`
	QuotedStatus    *status `json:"quoted_status"`
}

func toPost(st status) domain.Post {
	post := domain.Post{
		ID:     st.ID,
		Author: st.User.ScreenName,
		Text:   st.Text,
	}
	for _, u := range st.Entities.URLs {
		if u.ExpandedURL != "" {
			post.URLs = append(post.URLs, u.ExpandedURL)
		}
	}
	if st.RetweetedStatus != nil {
		nested := toPost(*st.RetweetedStatus)
		post.Reshared = &nested
	}
	if st.QuotedStatus != nil {
		nested := toPost(*st.QuotedStatus)
		post.Quoted = &nested
	}
	return post
}
