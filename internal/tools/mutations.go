// ABOUTME: Mutation tool handlers: every one authorizes through the policy gateway first.
// ABOUTME: The backend write happens only on an allowed, non-duplicate verdict.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/policy"
	"github.com/perchworks/perch-gateway/internal/registry"
	"github.com/perchworks/perch-gateway/internal/taxonomy"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

// maxTweetRunes is the platform's post length limit, counted in runes.
const maxTweetRunes = 280

var fullOnly = []registry.Profile{registry.ProfileFull}

var mutationErrorCodes = []taxonomy.Code{
	taxonomy.CodePolicyError,
	taxonomy.CodeValidationError,
	taxonomy.CodeNotFound,
	taxonomy.CodeXRateLimited,
	taxonomy.CodeXAuthExpired,
	taxonomy.CodeXForbidden,
	taxonomy.CodeXAccountRestricted,
	taxonomy.CodeXNetworkError,
	taxonomy.CodeXAPIError,
	taxonomy.CodeStorageError,
}

// authorize runs the policy gateway and, when the verdict permits
// execution, calls exec. Any verdict that does not execute comes back as
// a success envelope carrying the decision; gateway failures (audit
// write errors included) come back as policy errors so the mutation
// never runs unaudited.
func (d Deps) authorize(ctx context.Context, req policy.Request, exec func(ctx context.Context) *envelope.Envelope) *envelope.Envelope {
	verdict, err := d.Gateway.Authorize(ctx, req)
	if err != nil {
		return envelope.Fail(taxonomy.CodePolicyError, err.Error())
	}
	if !verdict.Allowed() {
		return decisionEnvelope(verdict)
	}

	env := exec(ctx)
	if env.Error != nil {
		d.logger().Warn("mutation failed after policy allowed it",
			"tool", req.ToolName, "code", env.Error.Code)
		env.WithDecision(envelope.DecisionAllowed)
	}
	return env
}

// backendFail classifies a write error into an error envelope.
func backendFail(err error) *envelope.Envelope {
	code, retryAfter := xapi.Classify(err)
	env := envelope.Fail(code, err.Error())
	if retryAfter > 0 {
		env.WithRetryAfter(retryAfter)
	}
	return env
}

func allowedData(extra map[string]any) map[string]any {
	data := map[string]any{"policy_decision": envelope.DecisionAllowed}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func validateText(text string) error {
	if text == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(text) > maxTweetRunes {
		return fmt.Errorf("text exceeds %d characters", maxTweetRunes)
	}
	return nil
}

func postTweetTool(d Deps) *registry.Tool {
	type params struct {
		Text           string `json:"text"`
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_post_tweet",
			Description: "Publish a new tweet from the authenticated account.",
			Category:    registry.CategoryPublish,
			Lane:        registry.LanePrivileged,
			Mutation:    true,
			InputSchema: `{"type":"object","properties":{"text":{"type":"string","maxLength":280},"idempotency_key":{"type":"string"}},"required":["text"]}`,

			RequiresBackendClient: true,
			RequiresStorage:       true,
			Profiles:              fullOnly,
			PossibleErrorCodes:    mutationErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if err := validateText(in.Text); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			req := policy.Request{
				ToolName:       "x_post_tweet",
				Args:           args,
				IdempotencyKey: in.IdempotencyKey,
				Text:           in.Text,
			}
			return d.authorize(ctx, req, func(ctx context.Context) *envelope.Envelope {
				tweet, err := d.Write.PostTweet(ctx, in.Text)
				if err != nil {
					return backendFail(err)
				}
				return envelope.OK(allowedData(map[string]any{"tweet": tweet}))
			})
		},
	}
}

func replyTool(d Deps) *registry.Tool {
	type params struct {
		InReplyToID    string `json:"in_reply_to_id"`
		Text           string `json:"text"`
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        "x_reply_to_tweet",
			Description: "Reply to an existing tweet. The parent is fetched to enforce reply rules.",
			Category:    registry.CategoryPublish,
			Lane:        registry.LanePrivileged,
			Mutation:    true,
			InputSchema: `{"type":"object","properties":{"in_reply_to_id":{"type":"string"},"text":{"type":"string","maxLength":280},"idempotency_key":{"type":"string"}},"required":["in_reply_to_id","text"]}`,

			RequiresBackendClient: true,
			RequiresStorage:       true,
			Profiles:              fullOnly,
			PossibleErrorCodes:    mutationErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in params
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			if in.InReplyToID == "" {
				return envelope.Fail(taxonomy.CodeValidationError, "in_reply_to_id is required")
			}
			if err := validateText(in.Text); err != nil {
				return envelope.Fail(taxonomy.CodeValidationError, err.Error())
			}

			// The parent lookup feeds self-reply prevention and the
			// per-author cap, so a failed lookup fails the reply.
			var parent *xapi.Tweet
			res := d.Retry.Do(ctx, "reply_parent_lookup", func(ctx context.Context) error {
				var err error
				parent, err = d.Read.GetTweet(ctx, in.InReplyToID)
				return err
			})
			if res.Err != nil {
				return failFromResult(res)
			}

			req := policy.Request{
				ToolName:       "x_reply_to_tweet",
				Args:           args,
				IdempotencyKey: in.IdempotencyKey,
				Text:           in.Text,
				TargetAuthor:   parent.AuthorUsername,
			}
			return d.authorize(ctx, req, func(ctx context.Context) *envelope.Envelope {
				tweet, err := d.Write.Reply(ctx, in.InReplyToID, in.Text)
				if err != nil {
					return backendFail(err)
				}
				return envelope.OK(allowedData(map[string]any{"tweet": tweet}))
			})
		},
	}
}

// simpleMutation builds a tool whose handler takes one id-shaped argument,
// authorizes, and invokes a single write call. Covers likes, retweets,
// follows, deletes, and their reversals.
func simpleMutation(d Deps, name, description, argName string, category registry.Category, undo bool, write func(ctx context.Context, id string) error) *registry.Tool {
	schema := fmt.Sprintf(`{"type":"object","properties":{%q:{"type":"string"},"idempotency_key":{"type":"string"}},"required":[%q]}`, argName, argName)
	return &registry.Tool{
		Entry: registry.ManifestEntry{
			Name:        name,
			Description: description,
			Category:    category,
			Lane:        registry.LanePrivileged,
			Mutation:    true,
			InputSchema: schema,

			RequiresBackendClient: true,
			RequiresStorage:       true,
			Profiles:              fullOnly,
			PossibleErrorCodes:    mutationErrorCodes,
		},
		Handler: func(ctx context.Context, args json.RawMessage) *envelope.Envelope {
			var in map[string]string
			if env := parseArgs(args, &in); env != nil {
				return env
			}
			id := in[argName]
			if id == "" {
				return envelope.Fail(taxonomy.CodeValidationError, argName+" is required")
			}

			req := policy.Request{
				ToolName:       name,
				Args:           args,
				IdempotencyKey: in["idempotency_key"],
				Undo:           undo,
			}
			return d.authorize(ctx, req, func(ctx context.Context) *envelope.Envelope {
				if err := write(ctx, id); err != nil {
					return backendFail(err)
				}
				return envelope.OK(allowedData(map[string]any{argName: id}))
			})
		},
	}
}

func deleteTweetTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_delete_tweet",
		"Delete one of the authenticated account's tweets.",
		"id", registry.CategoryPublish, true, func(ctx context.Context, id string) error { return d.Write.DeleteTweet(ctx, id) })
}

func likeTweetTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_like_tweet",
		"Like a tweet.",
		"tweet_id", registry.CategoryEngagement, false, func(ctx context.Context, id string) error { return d.Write.Like(ctx, id) })
}

func unlikeTweetTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_unlike_tweet",
		"Remove a like from a tweet.",
		"tweet_id", registry.CategoryEngagement, true, func(ctx context.Context, id string) error { return d.Write.Unlike(ctx, id) })
}

func retweetTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_retweet",
		"Retweet a tweet.",
		"tweet_id", registry.CategoryEngagement, false, func(ctx context.Context, id string) error { return d.Write.Retweet(ctx, id) })
}

func unretweetTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_unretweet",
		"Undo a retweet.",
		"tweet_id", registry.CategoryEngagement, true, func(ctx context.Context, id string) error { return d.Write.Unretweet(ctx, id) })
}

func followUserTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_follow_user",
		"Follow a user.",
		"user_id", registry.CategorySocial, false, func(ctx context.Context, id string) error { return d.Write.Follow(ctx, id) })
}

func unfollowUserTool(d Deps) *registry.Tool {
	return simpleMutation(d, "x_unfollow_user",
		"Unfollow a user.",
		"user_id", registry.CategorySocial, true, func(ctx context.Context, id string) error { return d.Write.Unfollow(ctx, id) })
}
