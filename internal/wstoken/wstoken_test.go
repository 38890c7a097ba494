package wstoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueThenConsumeReturnsConsumerID(t *testing.T) {
	s := New(time.Minute)
	token, err := s.Issue("consumer-1")
	require.NoError(t, err)
	assert.Len(t, token, 64) // 32 bytes hex-encoded

	id, ok := s.Consume(token)
	require.True(t, ok)
	assert.Equal(t, "consumer-1", id)
}

func TestConsumeIsSingleUse(t *testing.T) {
	s := New(time.Minute)
	token, err := s.Issue("consumer-1")
	require.NoError(t, err)

	_, ok := s.Consume(token)
	require.True(t, ok)

	_, ok = s.Consume(token)
	assert.False(t, ok)
}

func TestConsumeRejectsSentinelsAndUnknown(t *testing.T) {
	s := New(time.Minute)
	for _, tok := range []string{"", "undefined", "null", "bogus-token"} {
		_, ok := s.Consume(tok)
		assert.False(t, ok, "token %q should not be consumable", tok)
	}
}

func TestConsumeRejectsExpiredToken(t *testing.T) {
	fakeNow := time.Now()
	s := New(time.Minute)
	s.now = func() time.Time { return fakeNow }

	token, err := s.Issue("consumer-1")
	require.NoError(t, err)

	fakeNow = fakeNow.Add(2 * time.Minute)
	_, ok := s.Consume(token)
	assert.False(t, ok)
}

func TestPruneRemovesOnlyExpiredUnconsumedTokens(t *testing.T) {
	fakeNow := time.Now()
	s := New(time.Minute)
	s.now = func() time.Time { return fakeNow }

	_, err := s.Issue("consumer-1")
	require.NoError(t, err)
	live, err := s.Issue("consumer-2")
	require.NoError(t, err)

	fakeNow = fakeNow.Add(2 * time.Minute)
	removed := s.Prune()
	assert.Equal(t, 2, removed)

	fakeNow = fakeNow.Add(-2 * time.Minute) // restore, irrelevant: token already deleted
	_, ok := s.Consume(live)
	assert.False(t, ok) // it too expired by the time Prune ran
}
