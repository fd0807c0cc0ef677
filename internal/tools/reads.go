// ABOUTME: Read tool handlers: single-entity lookups and list-shaped timeline reads.
// ABOUTME: Every backend call runs under the retry runner; list results carry normalized pagination.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/page"
	"github.com/perchworks/perch-gateway/internal/registry"
	"github.com/perchworks/perch-gateway/internal/taxonomy"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

const maxListResults = 100

var readErrorCodes = []taxonomy.Code{
	taxonomy.CodeNotFound,
	taxonomy.CodeValidationError,
	taxonomy.CodeXRateLimited,
	taxonomy.CodeXAuthExpired,
	taxonomy.CodeXForbidden,
	taxonomy.CodeXNetworkError,
	taxonomy.CodeXAPIError,
}

type listParams struct {
	MaxResults int    `json:"max_results,omitempty"`
	NextToken  string `json:"next_token,omitempty"`
}

func (p listParams) validate() error {
	if p.MaxResults < 0 || p.MaxResults > maxListResults {
		return fmt.Errorf("max_results must be between 0 and %d", maxListResults)
	}
	return nil
}

func (p listParams) query() xapi.ListQuery {
	return xapi.ListQuery{MaxResults: p.MaxResults, NextToken: p.NextToken}
}

func parseArgs(args json.RawMessage, into any) *envelope.Envelope {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, into); err != nil {
		return envelope.Fail(taxonomy.CodeValidationError, fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// listEnvelope wraps a paged result with normalized pagination metadata.
func listEnvelope(data any, p page.Paged, retries int) *envelope.Envelope {
	return envelope.OK(data).WithPagination(page.Normalize(p)).WithRetryCount(retries)
}

func getTweetTool(d Deps) *registry.Tool {
	type params struct {
		ID string `json:"id"`
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_tweet",
			Description: "Fetch a single tweet by id, including its author and public metrics.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"id":{"type":"string","description":"Tweet id"}},"required":["id"]}`,

			RequiresBackendClient: true,
			Profiles:              registry.Profiles,
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.ID == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "id is required")
			}

			var tweet *xapi.Tweet
			res := d.Retry.Do(ctx, "get_tweet", func(ctx context.Context) error {
				var err error
				tweet, err = d.Read.GetTweet(ctx, in.ID)
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return envelope.OK(tweet).WithRetryCount(res.RetryCount)
		},
	}
}

func getUserTool(d Deps) *registry.Tool {
	type params struct {
		Username string `json:"username"`
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_user",
			Description: "Look up a user profile by username.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"username":{"type":"string","description":"Handle without the @ prefix"}},"required":["username"]}`,

			RequiresBackendClient: true,
			Profiles:              registry.Profiles,
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.Username == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "username is required")
			}

			var user *xapi.User
			res := d.Retry.Do(ctx, "get_user", func(ctx context.Context) error {
				var err error
				user, err = d.Read.GetUser(ctx, in.Username)
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return envelope.OK(user).WithRetryCount(res.RetryCount)
		},
	}
}

func searchTweetsTool(d Deps) *registry.Tool {
	type params struct {
		Query string `json:"query"`
		listParams
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_search_tweets",
			Description: "Search recent tweets matching a query. Paginated; pass next_token to continue.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"query":{"type":"string"},"max_results":{"type":"integer","minimum":1,"maximum":100},"next_token":{"type":"string"}},"required":["query"]}`,

			RequiresBackendClient: true,
			Profiles:              registry.Profiles,
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.Query == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "query is required")
			}
			if err := in.validate(); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			var pg *xapi.TweetPage
			res := d.Retry.Do(ctx, "search_tweets", func(ctx context.Context) error {
				var err error
				pg, err = d.Read.SearchTweets(ctx, in.Query, in.query())
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return listEnvelope(pg.Tweets, pg, res.RetryCount)
		},
	}
}

func userTimelineTool(d Deps) *registry.Tool {
	type params struct {
		UserID string `json:"user_id"`
		listParams
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_user_timeline",
			Description: "Fetch a user's recent tweets, newest first. Paginated.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"user_id":{"type":"string"},"max_results":{"type":"integer","minimum":1,"maximum":100},"next_token":{"type":"string"}},"required":["user_id"]}`,

			RequiresBackendClient: true,
			Profiles:              registry.Profiles,
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.UserID == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "user_id is required")
			}
			if err := in.validate(); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			var pg *xapi.TweetPage
			res := d.Retry.Do(ctx, "user_timeline", func(ctx context.Context) error {
				var err error
				pg, err = d.Read.UserTimeline(ctx, in.UserID, in.query())
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return listEnvelope(pg.Tweets, pg, res.RetryCount)
		},
	}
}

func mentionsTool(d Deps) *registry.Tool {
	type params struct {
		UserID string `json:"user_id"`
		listParams
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_mentions",
			Description: "Fetch recent tweets mentioning a user. Paginated.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"user_id":{"type":"string"},"max_results":{"type":"integer","minimum":1,"maximum":100},"next_token":{"type":"string"}},"required":["user_id"]}`,

			RequiresBackendClient: true,
			Profiles:              []registry.Profile{registry.ProfileReadExtended, registry.ProfileFull},
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.UserID == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "user_id is required")
			}
			if err := in.validate(); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			var pg *xapi.TweetPage
			res := d.Retry.Do(ctx, "mentions", func(ctx context.Context) error {
				var err error
				pg, err = d.Read.Mentions(ctx, in.UserID, in.query())
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return listEnvelope(pg.Tweets, pg, res.RetryCount)
		},
	}
}

func homeTimelineTool(d Deps) *registry.Tool {
	type params struct {
		listParams
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_home_timeline",
			Description: "Fetch the authenticated account's home timeline. Paginated.",
			Category:    registry.CategoryRead,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"max_results":{"type":"integer","minimum":1,"maximum":100},"next_token":{"type":"string"}}}`,

			RequiresBackendClient: true,
			Profiles:              []registry.Profile{registry.ProfileReadExtended, registry.ProfileFull},
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if err := in.validate(); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			var pg *xapi.TweetPage
			res := d.Retry.Do(ctx, "home_timeline", func(ctx context.Context) error {
				var err error
				pg, err = d.Read.HomeTimeline(ctx, in.query())
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return listEnvelope(pg.Tweets, pg, res.RetryCount)
		},
	}
}

func followersTool(d Deps) *registry.Tool {
	type params struct {
		UserID string `json:"user_id"`
		listParams
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_get_followers",
			Description: "Fetch a user's followers. Paginated.",
			Category:    registry.CategorySocial,
			Lane:        registry.LaneCommon,
			InputSchema: `{"type":"object","properties":{"user_id":{"type":"string"},"max_results":{"type":"integer","minimum":1,"maximum":100},"next_token":{"type":"string"}},"required":["user_id"]}`,

			RequiresBackendClient: true,
			Profiles:              []registry.Profile{registry.ProfileReadExtended, registry.ProfileFull},
			PossibleErrorCodes:    readErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.UserID == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "user_id is required")
			}
			if err := in.validate(); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			var pg *xapi.UserPage
			res := d.Retry.Do(ctx, "followers", func(ctx context.Context) error {
				var err error
				pg, err = d.Read.Followers(ctx, in.UserID, in.query())
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}
			return listEnvelope(pg.Users, pg, res.RetryCount)
		},
	}
}
