// ABOUTME: In-memory fake backend for tests and dry-run demo runs.
// ABOUTME: Scriptable per-method errors plus call counting for execution assertions.

package xapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// Fake is an in-memory Client. Seed tweets and users directly, script
// failures with FailNext, and assert backend execution with Calls.
type Fake struct {
	mu     sync.Mutex
	tweets map[string]*Tweet
	users  map[string]*User // keyed by username
	calls  map[string]int
	errs   map[string][]error // queued errors per method name
	selfID string
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		tweets: make(map[string]*Tweet),
		users:  make(map[string]*User),
		calls:  make(map[string]int),
		errs:   make(map[string][]error),
		selfID: "self",
	}
}

// SeedTweet adds a tweet to the fake's store.
func (f *Fake) SeedTweet(t Tweet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tw := t
	f.tweets[tw.ID] = &tw
}

// SeedUser adds a user keyed by username.
func (f *Fake) SeedUser(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usr := u
	f.users[usr.Username] = &usr
}

// FailNext queues an error to be returned by the next call to method.
// Queued errors are consumed in order; once drained, calls succeed again.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], err)
}

// Calls returns how many times a method reached the backend.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// record counts the call and pops a scripted error if one is queued.
func (f *Fake) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	queue := f.errs[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.errs[method] = queue[1:]
	return err
}

func (f *Fake) GetTweet(_ context.Context, id string) (*Tweet, error) {
	if err := f.record("GetTweet"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tweets[id]
	if !ok {
		return nil, &APIError{Code: taxonomy.CodeNotFound, StatusCode: 404, Message: fmt.Sprintf("tweet %s", id)}
	}
	out := *t
	return &out, nil
}

func (f *Fake) GetUser(_ context.Context, username string) (*User, error) {
	if err := f.record("GetUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, &APIError{Code: taxonomy.CodeNotFound, StatusCode: 404, Message: fmt.Sprintf("user %s", username)}
	}
	out := *u
	return &out, nil
}

// page slices the fake's tweets into a fixed-size page with a synthetic
// cursor. Cursors are "offset:<n>" for determinism in tests.
func (f *Fake) page(all []Tweet, q ListQuery) *TweetPage {
	limit := q.MaxResults
	if limit <= 0 {
		limit = 10
	}
	offset := 0
	if q.NextToken != "" {
		fmt.Sscanf(q.NextToken, "offset:%d", &offset)
	}
	if offset >= len(all) {
		return &TweetPage{ResultCount: 0}
	}
	end := offset + limit
	next := ""
	if end < len(all) {
		next = fmt.Sprintf("offset:%d", end)
	} else {
		end = len(all)
	}
	page := all[offset:end]
	return &TweetPage{Tweets: page, NextToken: next, ResultCount: len(page)}
}

func (f *Fake) allTweets() []Tweet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Tweet, 0, len(f.tweets))
	for _, t := range f.tweets {
		out = append(out, *t)
	}
	// Stable order for cursor arithmetic.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ID < out[i].ID {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (f *Fake) SearchTweets(_ context.Context, query string, q ListQuery) (*TweetPage, error) {
	if err := f.record("SearchTweets"); err != nil {
		return nil, err
	}
	return f.page(f.allTweets(), q), nil
}

func (f *Fake) UserTimeline(_ context.Context, userID string, q ListQuery) (*TweetPage, error) {
	if err := f.record("UserTimeline"); err != nil {
		return nil, err
	}
	all := f.allTweets()
	filtered := make([]Tweet, 0, len(all))
	for _, t := range all {
		if t.AuthorID == userID {
			filtered = append(filtered, t)
		}
	}
	return f.page(filtered, q), nil
}

func (f *Fake) Mentions(_ context.Context, _ string, q ListQuery) (*TweetPage, error) {
	if err := f.record("Mentions"); err != nil {
		return nil, err
	}
	return f.page(f.allTweets(), q), nil
}

func (f *Fake) HomeTimeline(_ context.Context, q ListQuery) (*TweetPage, error) {
	if err := f.record("HomeTimeline"); err != nil {
		return nil, err
	}
	return f.page(f.allTweets(), q), nil
}

func (f *Fake) Followers(_ context.Context, _ string, q ListQuery) (*UserPage, error) {
	if err := f.record("Followers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	users := make([]User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, *u)
	}
	f.mu.Unlock()
	return &UserPage{Users: users, ResultCount: len(users)}, nil
}

func (f *Fake) PostTweet(_ context.Context, text string) (*Tweet, error) {
	if err := f.record("PostTweet"); err != nil {
		return nil, err
	}
	t := &Tweet{
		ID:        uuid.New().String(),
		Text:      text,
		AuthorID:  f.selfID,
		CreatedAt: time.Now().UTC(),
	}
	f.mu.Lock()
	f.tweets[t.ID] = t
	f.mu.Unlock()
	out := *t
	return &out, nil
}

func (f *Fake) Reply(_ context.Context, inReplyToID, text string) (*Tweet, error) {
	if err := f.record("Reply"); err != nil {
		return nil, err
	}
	t := &Tweet{
		ID:          uuid.New().String(),
		Text:        text,
		AuthorID:    f.selfID,
		InReplyToID: inReplyToID,
		CreatedAt:   time.Now().UTC(),
	}
	f.mu.Lock()
	f.tweets[t.ID] = t
	f.mu.Unlock()
	out := *t
	return &out, nil
}

func (f *Fake) DeleteTweet(_ context.Context, id string) error {
	if err := f.record("DeleteTweet"); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.tweets, id)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Like(_ context.Context, tweetID string) error {
	return f.record("Like")
}

func (f *Fake) Unlike(_ context.Context, tweetID string) error {
	return f.record("Unlike")
}

func (f *Fake) Retweet(_ context.Context, tweetID string) error {
	return f.record("Retweet")
}

func (f *Fake) Unretweet(_ context.Context, tweetID string) error {
	return f.record("Unretweet")
}

func (f *Fake) Follow(_ context.Context, userID string) error {
	return f.record("Follow")
}

func (f *Fake) Unfollow(_ context.Context, userID string) error {
	return f.record("Unfollow")
}
