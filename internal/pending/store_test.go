package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration) (*Store, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	s := New(ttl)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestTakeBeforeResolveIsPending(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	token := s.Mint()

	html, status := s.Take(token)
	assert.Equal(t, StatusPending, status)
	assert.Empty(t, html)
}

func TestOneShotDelivery(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	token := s.Mint()
	require.True(t, s.Resolve(token, "<html>done</html>"))

	html, status := s.Take(token)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "<html>done</html>", html)

	_, status = s.Take(token)
	assert.Equal(t, StatusNotFound, status)
}

func TestUnknownTokenNotFound(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	_, status := s.Take("no-such-token")
	assert.Equal(t, StatusNotFound, status)
}

func TestExpiryReapsUnreadEntries(t *testing.T) {
	s, now := newTestStore(time.Minute)
	token := s.Mint()
	require.True(t, s.Resolve(token, "doc"))

	*now = now.Add(2 * time.Minute)

	_, status := s.Take(token)
	assert.Equal(t, StatusNotFound, status)
	assert.Zero(t, s.Len())
}

func TestInFlightEntrySurvivesPastTTL(t *testing.T) {
	s, now := newTestStore(time.Minute)
	token := s.Mint()

	// The generation outlives the TTL; the entry must stay claimable.
	*now = now.Add(10 * time.Minute)
	_, status := s.Take(token)
	assert.Equal(t, StatusPending, status)

	require.True(t, s.Resolve(token, "slow but finished"))
	html, status := s.Take(token)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "slow but finished", html)
}

func TestExpiryRunsFromResolution(t *testing.T) {
	s, now := newTestStore(time.Minute)
	token := s.Mint()

	*now = now.Add(5 * time.Minute)
	require.True(t, s.Resolve(token, "doc"))

	// Half a TTL after resolution the entry is still live.
	*now = now.Add(30 * time.Second)
	html, status := s.Take(token)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "doc", html)
}

func TestResolveTwiceRejected(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	token := s.Mint()
	require.True(t, s.Resolve(token, "first"))
	assert.False(t, s.Resolve(token, "second"))

	html, status := s.Take(token)
	assert.Equal(t, StatusReady, status)
	assert.Equal(t, "first", html)
}

func TestTokensAreUnique(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token := s.Mint()
		assert.False(t, seen[token])
		seen[token] = true
	}
}
