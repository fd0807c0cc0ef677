// ABOUTME: Tests for the mutation tool handlers end to end through the policy gateway.
// ABOUTME: Asserts backend call counts, so suppression paths are proven, not inferred.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchworks/perch-gateway/internal/dedupe"
	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/policy"
	"github.com/perchworks/perch-gateway/internal/store"
	"github.com/perchworks/perch-gateway/internal/taxonomy"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

type mutationFixture struct {
	deps Deps
	fake *xapi.Fake
	mock *store.MockStore
	idem *dedupe.Store
}

func newMutationFixture(t *testing.T, cfg policy.Config) *mutationFixture {
	t.Helper()
	fake := xapi.NewFake()
	mock := store.NewMockStore()
	idem := dedupe.New(30*time.Second, 1000)
	t.Cleanup(idem.Close)

	gw := policy.NewGateway(cfg, mock, idem, nil)
	return &mutationFixture{
		deps: Deps{Read: fake, Write: fake, Gateway: gw, Retry: testRunner()},
		fake: fake,
		mock: mock,
		idem: idem,
	}
}

func permissiveConfig() policy.Config {
	return policy.Config{
		EnforceForMutations: true,
		MaxMutationsPerHour: 100,
		MaxRepliesPerUser:   5,
	}
}

func dataMap(t *testing.T, env *envelope.Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "expected map data, got %T", env.Data)
	return m
}

func TestPostTweet_Allowed(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())

	tool := postTweetTool(fx.deps)
	env := tool.Handler(context.Background(), json.RawMessage(`{"text":"hello world"}`))

	require.True(t, env.Success)
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionAllowed, data["policy_decision"])
	require.NotNil(t, data["tweet"])
	assert.Equal(t, 1, fx.fake.Calls("PostTweet"))
	assert.Equal(t, 1, fx.mock.AuditCount(), "allowed decisions are audited too")
}

func TestPostTweet_EmptyText(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":""}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodeValidationError, env.Error.Code)
	assert.Zero(t, fx.fake.Calls("PostTweet"))
	assert.Zero(t, fx.mock.AuditCount(), "validation failures never reach the gateway")
}

func TestPostTweet_TooLong(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	long := strings.Repeat("x", 281)

	env := postTweetTool(fx.deps).Handler(context.Background(),
		json.RawMessage(`{"text":"`+long+`"}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodeValidationError, env.Error.Code)
}

func TestPostTweet_DuplicateSuppressed(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	tool := postTweetTool(fx.deps)
	args := json.RawMessage(`{"text":"same post"}`)

	first := tool.Handler(context.Background(), args)
	second := tool.Handler(context.Background(), args)

	require.True(t, first.Success)
	require.True(t, second.Success)
	data := dataMap(t, second)
	assert.Equal(t, true, data["duplicate_suppressed"])
	assert.Equal(t, 1, fx.fake.Calls("PostTweet"), "the backend must see exactly one call")
}

func TestPostTweet_IdempotencyKeyOverridesParams(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	tool := postTweetTool(fx.deps)

	first := tool.Handler(context.Background(), json.RawMessage(`{"text":"one","idempotency_key":"k1"}`))
	second := tool.Handler(context.Background(), json.RawMessage(`{"text":"two","idempotency_key":"k1"}`))

	require.True(t, first.Success)
	data := dataMap(t, second)
	assert.Equal(t, true, data["duplicate_suppressed"])
	assert.Equal(t, 1, fx.fake.Calls("PostTweet"))
}

func TestPostTweet_Blocked(t *testing.T) {
	cfg := permissiveConfig()
	cfg.BlockedTools = []string{"x_post_tweet"}
	fx := newMutationFixture(t, cfg)

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))

	require.True(t, env.Success, "denials are successful envelopes carrying the decision")
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionDeniedBlocked, data["policy_decision"])
	assert.Zero(t, fx.fake.Calls("PostTweet"))
	assert.Equal(t, 1, fx.mock.AuditCount())
}

func TestPostTweet_BannedPhrase(t *testing.T) {
	cfg := permissiveConfig()
	cfg.BannedPhrases = []string{"buy now"}
	fx := newMutationFixture(t, cfg)

	env := postTweetTool(fx.deps).Handler(context.Background(),
		json.RawMessage(`{"text":"BUY NOW while stocks last"}`))

	require.True(t, env.Success)
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionDeniedHardRule, data["policy_decision"])
	assert.Zero(t, fx.fake.Calls("PostTweet"))
}

func TestPostTweet_DryRun(t *testing.T) {
	cfg := permissiveConfig()
	cfg.DryRunMutations = true
	fx := newMutationFixture(t, cfg)

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))

	require.True(t, env.Success)
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionDryRun, data["policy_decision"])
	assert.Equal(t, true, data["dry_run"])
	assert.Zero(t, fx.fake.Calls("PostTweet"))
}

func TestPostTweet_RoutedToApproval(t *testing.T) {
	cfg := permissiveConfig()
	cfg.RequireApprovalFor = []string{"x_post_tweet"}
	fx := newMutationFixture(t, cfg)

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))

	require.True(t, env.Success)
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionRoutedToApproval, data["policy_decision"])
	assert.NotEmpty(t, data["queue_id"])
	assert.Zero(t, fx.fake.Calls("PostTweet"))

	status := store.ApprovalPending
	pending, err := fx.mock.ListApprovals(context.Background(), store.ApprovalFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "x_post_tweet", pending[0].ToolName)
}

func TestPostTweet_AuditFailureBlocksExecution(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	fx.mock.FailAudit = errors.New("disk full")

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodePolicyError, env.Error.Code)
	assert.Zero(t, fx.fake.Calls("PostTweet"), "an unauditable mutation must not execute")
}

func TestPostTweet_BackendErrorCarriesDecision(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	fx.fake.FailNext("PostTweet", &xapi.APIError{
		Code: taxonomy.CodeXForbidden, StatusCode: 403, Message: "duplicate content",
	})

	env := postTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"text":"hi"}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodeXForbidden, env.Error.Code)
	assert.Equal(t, envelope.DecisionAllowed, env.Error.PolicyDecision,
		"the error must show policy allowed it and the backend failed")
}

func TestReply_SelfReplyPrevented(t *testing.T) {
	cfg := permissiveConfig()
	cfg.SelfHandle = "perchbot"
	fx := newMutationFixture(t, cfg)
	fx.fake.SeedTweet(xapi.Tweet{ID: "t1", AuthorUsername: "perchbot"})

	env := replyTool(fx.deps).Handler(context.Background(),
		json.RawMessage(`{"in_reply_to_id":"t1","text":"replying to myself"}`))

	require.True(t, env.Success)
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionDeniedHardRule, data["policy_decision"])
	assert.Zero(t, fx.fake.Calls("Reply"))
}

func TestReply_PerAuthorDailyCap(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxRepliesPerUser = 2
	fx := newMutationFixture(t, cfg)
	fx.fake.SeedTweet(xapi.Tweet{ID: "t1", AuthorUsername: "ada"})

	tool := replyTool(fx.deps)
	for i, text := range []string{"first", "second"} {
		env := tool.Handler(context.Background(),
			json.RawMessage(`{"in_reply_to_id":"t1","text":"`+text+`"}`))
		require.True(t, env.Success, "reply %d", i)
		assert.Equal(t, envelope.DecisionAllowed, dataMap(t, env)["policy_decision"])
	}

	env := tool.Handler(context.Background(),
		json.RawMessage(`{"in_reply_to_id":"t1","text":"third"}`))
	data := dataMap(t, env)
	assert.Equal(t, envelope.DecisionDeniedHardRule, data["policy_decision"])
	assert.Equal(t, 2, fx.fake.Calls("Reply"))
}

func TestReply_ParentLookupFailure(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())

	env := replyTool(fx.deps).Handler(context.Background(),
		json.RawMessage(`{"in_reply_to_id":"ghost","text":"hi"}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodeNotFound, env.Error.Code)
	assert.Zero(t, fx.fake.Calls("Reply"))
	assert.Zero(t, fx.mock.AuditCount(), "a failed lookup never reaches the gateway")
}

func TestLike_ThenUnlike(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())

	env := likeTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"tweet_id":"t1"}`))
	require.True(t, env.Success)
	assert.Equal(t, 1, fx.fake.Calls("Like"))

	env = unlikeTweetTool(fx.deps).Handler(context.Background(), json.RawMessage(`{"tweet_id":"t1"}`))
	require.True(t, env.Success)
	assert.Equal(t, 1, fx.fake.Calls("Unlike"))
}

func TestUnlike_UndoSkipsDedup(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	tool := unlikeTweetTool(fx.deps)
	args := json.RawMessage(`{"tweet_id":"t1"}`)

	first := tool.Handler(context.Background(), args)
	second := tool.Handler(context.Background(), args)

	require.True(t, first.Success)
	require.True(t, second.Success)
	_, dup := dataMap(t, second)["duplicate_suppressed"]
	assert.False(t, dup)
	assert.Equal(t, 2, fx.fake.Calls("Unlike"), "undo tools are naturally idempotent and never deduplicated")
}

func TestLike_DuplicateSuppressed(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())
	tool := likeTweetTool(fx.deps)
	args := json.RawMessage(`{"tweet_id":"t1"}`)

	tool.Handler(context.Background(), args)
	second := tool.Handler(context.Background(), args)

	assert.Equal(t, true, dataMap(t, second)["duplicate_suppressed"])
	assert.Equal(t, 1, fx.fake.Calls("Like"))
}

func TestMutation_HourlyCap(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxMutationsPerHour = 2
	fx := newMutationFixture(t, cfg)
	tool := likeTweetTool(fx.deps)

	for _, id := range []string{"a", "b"} {
		env := tool.Handler(context.Background(), json.RawMessage(`{"tweet_id":"`+id+`"}`))
		assert.Equal(t, envelope.DecisionAllowed, dataMap(t, env)["policy_decision"])
	}

	env := tool.Handler(context.Background(), json.RawMessage(`{"tweet_id":"c"}`))
	assert.Equal(t, envelope.DecisionDeniedRateLimited, dataMap(t, env)["policy_decision"])
	assert.Equal(t, 2, fx.fake.Calls("Like"))
}

func TestFollow_MissingUserID(t *testing.T) {
	fx := newMutationFixture(t, permissiveConfig())

	env := followUserTool(fx.deps).Handler(context.Background(), json.RawMessage(`{}`))

	require.NotNil(t, env.Error)
	assert.Equal(t, taxonomy.CodeValidationError, env.Error.Code)
	assert.Zero(t, fx.fake.Calls("Follow"))
}
