package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwld/twitch-service/internal/models"
)

func sampleInterest(id string) models.Interest {
	return models.Interest{
		ID:            id,
		ConsumerID:    "consumer-1",
		BotID:         "bot-1",
		EventType:     "stream.online",
		BroadcasterID: "222",
		Transport:     models.TransportWS,
		CreatedAt:     time.Now(),
		LastHeartbeat: time.Now(),
	}
}

func TestAddThenRemoveRestoresEmptySet(t *testing.T) {
	r := New()
	in := sampleInterest("i1")
	key := r.Add(in)

	require.Len(t, r.Interested(key), 1)

	_, stillUsed := r.Remove(in.ID)
	assert.False(t, stillUsed)
	assert.Empty(t, r.Interested(key)) // P1
}

func TestKeysOnlyReturnNonEmptyKeys(t *testing.T) {
	r := New()
	in1 := sampleInterest("i1")
	in2 := sampleInterest("i2")
	in2.ConsumerID = "consumer-2"

	r.Add(in1)
	r.Add(in2)

	keys := r.Keys()
	require.Len(t, keys, 1) // both interests share one key

	for _, k := range keys {
		assert.NotEmpty(t, r.Interested(k)) // P2
	}

	r.Remove(in1.ID)
	keys = r.Keys()
	require.Len(t, keys, 1)

	_, stillUsed := r.Remove(in2.ID)
	assert.False(t, stillUsed)
	assert.Empty(t, r.Keys())
}

func TestAddIsIdempotentOnDuplicateID(t *testing.T) {
	r := New()
	in := sampleInterest("i1")
	key := r.Add(in)
	r.Add(in) // duplicate id, same key

	assert.Len(t, r.Interested(key), 1)
}

func TestRemoveReportsStillUsedByOthers(t *testing.T) {
	r := New()
	in1 := sampleInterest("i1")
	in2 := sampleInterest("i2")
	in2.ConsumerID = "consumer-2"

	r.Add(in1)
	r.Add(in2)

	_, stillUsed := r.Remove(in1.ID)
	assert.True(t, stillUsed)
}

func TestUpdateHeartbeatClearsStaleMarks(t *testing.T) {
	r := New()
	in := sampleInterest("i1")
	now := time.Now()
	stale := now.Add(-time.Hour)
	in.StaleMarkedAt = &stale
	in.DeleteAfter = &stale
	r.Add(in)

	r.UpdateHeartbeat(in.ID, now)

	got, ok := r.Get(in.ID)
	require.True(t, ok)
	assert.Nil(t, got.StaleMarkedAt)
	assert.Nil(t, got.DeleteAfter)
	assert.WithinDuration(t, now, got.LastHeartbeat, time.Second)
}

func TestLoadReplacesContentsAtomically(t *testing.T) {
	r := New()
	r.Add(sampleInterest("i1"))

	r.Load([]models.Interest{sampleInterest("i2")})

	assert.Len(t, r.All(), 1)
	_, ok := r.Get("i1")
	assert.False(t, ok)
	_, ok = r.Get("i2")
	assert.True(t, ok)
}
