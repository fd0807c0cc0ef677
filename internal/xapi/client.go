// ABOUTME: Narrow read/write client interfaces the gateway consumes.
// ABOUTME: Implementations handle HTTP, auth, and token refresh outside this repo.

package xapi

import "context"

// ListQuery carries the common knobs for list-shaped reads.
type ListQuery struct {
	MaxResults int    // 0 means backend default
	NextToken  string // opaque cursor from a previous page
}

// ReadClient exposes the read-only surface of the platform.
type ReadClient interface {
	GetTweet(ctx context.Context, id string) (*Tweet, error)
	GetUser(ctx context.Context, username string) (*User, error)
	SearchTweets(ctx context.Context, query string, q ListQuery) (*TweetPage, error)
	UserTimeline(ctx context.Context, userID string, q ListQuery) (*TweetPage, error)
	Mentions(ctx context.Context, userID string, q ListQuery) (*TweetPage, error)
	HomeTimeline(ctx context.Context, q ListQuery) (*TweetPage, error)
	Followers(ctx context.Context, userID string, q ListQuery) (*UserPage, error)
}

// WriteClient exposes the mutation surface. Every call changes external
// state; the gateway never invokes these except through the policy path.
type WriteClient interface {
	PostTweet(ctx context.Context, text string) (*Tweet, error)
	Reply(ctx context.Context, inReplyToID, text string) (*Tweet, error)
	DeleteTweet(ctx context.Context, id string) error
	Like(ctx context.Context, tweetID string) error
	Unlike(ctx context.Context, tweetID string) error
	Retweet(ctx context.Context, tweetID string) error
	Unretweet(ctx context.Context, tweetID string) error
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// Client is the full backend surface.
type Client interface {
	ReadClient
	WriteClient
}
