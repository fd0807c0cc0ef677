// ABOUTME: Tests for the idempotency fingerprint store and canonical fingerprinting.
// ABOUTME: Validates atomicity under concurrency, window expiry, eviction, and key derivation.

package dedupe

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndRecord_FreshThenDuplicate(t *testing.T) {
	s := New(5*time.Second, 100)
	defer s.Close()

	assert.False(t, s.CheckAndRecord("fp-1"), "first attempt is fresh")
	assert.True(t, s.CheckAndRecord("fp-1"), "second attempt within window is a duplicate")
}

func TestCheckAndRecord_ExpiredIsFreshAgain(t *testing.T) {
	s := New(10*time.Millisecond, 100)
	defer s.Close()

	assert.False(t, s.CheckAndRecord("fp-exp"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.CheckAndRecord("fp-exp"), "expired fingerprint is fresh and re-recorded")
	assert.True(t, s.CheckAndRecord("fp-exp"))
}

func TestCheckAndRecord_ConcurrentSingleWinner(t *testing.T) {
	s := New(time.Minute, 1000)
	defer s.Close()

	const goroutines = 50
	var wg sync.WaitGroup
	fresh := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.CheckAndRecord("contended") {
				fresh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fresh)

	assert.Equal(t, 1, len(fresh), "exactly one concurrent caller may observe fresh")
}

func TestEviction_AtCapacity(t *testing.T) {
	s := New(time.Minute, 3)
	defer s.Close()

	s.CheckAndRecord("a")
	s.CheckAndRecord("b")
	s.CheckAndRecord("c")
	s.CheckAndRecord("d") // evicts "a"

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("d"))
}

func TestSweep_RemovesExpired(t *testing.T) {
	s := New(5*time.Millisecond, 100)
	defer s.Close()

	s.CheckAndRecord("stale")
	time.Sleep(10 * time.Millisecond)
	s.runSweep()

	assert.Equal(t, 0, s.Len())
}

func TestClose_Idempotent(t *testing.T) {
	s := New(time.Second, 10)
	s.Close()
	s.Close()
}

func TestFingerprint_KeyOrderIrrelevant(t *testing.T) {
	a := Fingerprint("x_post_tweet", json.RawMessage(`{"text":"hi","reply_to":"1"}`), "")
	b := Fingerprint("x_post_tweet", json.RawMessage(`{"reply_to":"1","text":"hi"}`), "")

	assert.Equal(t, a, b)
}

func TestFingerprint_ToolNameMatters(t *testing.T) {
	a := Fingerprint("x_post_tweet", json.RawMessage(`{"text":"hi"}`), "")
	b := Fingerprint("x_reply_to_tweet", json.RawMessage(`{"text":"hi"}`), "")

	assert.NotEqual(t, a, b)
}

func TestFingerprint_ExplicitKeyWins(t *testing.T) {
	a := Fingerprint("x_post_tweet", json.RawMessage(`{"text":"hi"}`), "caller-key")
	b := Fingerprint("x_post_tweet", json.RawMessage(`{"text":"completely different"}`), "caller-key")

	assert.Equal(t, a, b)
	assert.Equal(t, "key:caller-key", a)
}

func TestFingerprint_NestedCanonicalization(t *testing.T) {
	a := Fingerprint("t", json.RawMessage(`{"a":{"y":2,"x":1},"b":[1,2]}`), "")
	b := Fingerprint("t", json.RawMessage(`{"b":[1,2],"a":{"x":1,"y":2}}`), "")

	assert.Equal(t, a, b)
}

func TestCanonicalize_EmptyAndInvalid(t *testing.T) {
	assert.Equal(t, "{}", Canonicalize(nil))
	assert.Equal(t, "not json", Canonicalize(json.RawMessage("not json")))
}
