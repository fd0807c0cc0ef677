// ABOUTME: Domain types and error shape for the X platform backend boundary.
// ABOUTME: The real HTTP client lives outside this repo; these types define its contract.

package xapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// Tweet is a single post as returned by the backend.
type Tweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username,omitempty"`
	InReplyToID    string    `json:"in_reply_to_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LikeCount      int       `json:"like_count"`
	RetweetCount   int       `json:"retweet_count"`
	ReplyCount     int       `json:"reply_count"`
}

// User is an account profile.
type User struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	TweetCount     int    `json:"tweet_count"`
}

// TweetPage is one page of a list-shaped tweet response. NextToken is the
// backend's opaque cursor; empty means the listing is exhausted.
type TweetPage struct {
	Tweets      []Tweet `json:"tweets"`
	NextToken   string  `json:"next_token,omitempty"`
	ResultCount int     `json:"result_count"`
}

// UserPage is one page of a list-shaped user response.
type UserPage struct {
	Users       []User `json:"users"`
	NextToken   string `json:"next_token,omitempty"`
	ResultCount int    `json:"result_count"`
}

// PageToken returns the cursor for the next page, empty when exhausted.
func (p *TweetPage) PageToken() string { return p.NextToken }

// PageCount returns the number of results in this page.
func (p *TweetPage) PageCount() int { return p.ResultCount }

// PageToken returns the cursor for the next page, empty when exhausted.
func (p *UserPage) PageToken() string { return p.NextToken }

// PageCount returns the number of results in this page.
func (p *UserPage) PageCount() int { return p.ResultCount }

// APIError is the typed failure the backend client surfaces. Code places
// the failure in the taxonomy; RetryAfterMS carries the backend's wait
// hint on rate limits.
type APIError struct {
	Code         taxonomy.Code
	StatusCode   int
	Message      string
	RetryAfterMS int64
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("x api: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("x api: %s: %s", e.Code, e.Message)
}

// Classify maps any error from the backend boundary to a taxonomy code and
// an optional retry-after hint. Errors that are not APIErrors fall back to
// the generic network code since they come from the transport layer.
func Classify(err error) (taxonomy.Code, int64) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.RetryAfterMS
	}
	return taxonomy.CodeXNetworkError, 0
}
