package wsmachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kwld/twitch-service/internal/models"
)

type fixedKeys struct{ keys []models.InterestKey }

func (f fixedKeys) Keys() []models.InterestKey { return f.keys }

type fixedConsumers struct{ active bool }

func (f fixedConsumers) AnyActiveWS() bool { return f.active }

func newTestMachine(desired DesiredKeys, consumers ActiveConsumerChecker, cooldown time.Duration) *Machine {
	return New(Config{URL: "wss://example", Cooldown: cooldown}, nil, nil, desired, nil, consumers, nil, nil, nil, nil)
}

func TestShouldOpenFalseWithNoDesiredKeys(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{}, time.Minute)
	assert.False(t, m.shouldOpen())
}

func TestShouldOpenTrueWithStreamStateInterestRegardlessOfCooldown(t *testing.T) {
	m := newTestMachine(fixedKeys{keys: []models.InterestKey{{EventType: "stream.online"}}}, fixedConsumers{}, time.Minute)
	m.lastConsumerActivity = time.Now()
	assert.True(t, m.shouldOpen())
}

func TestShouldOpenTrueWhenCooldownNotElapsed(t *testing.T) {
	m := newTestMachine(fixedKeys{keys: []models.InterestKey{{EventType: "channel.chat.message"}}}, fixedConsumers{}, time.Hour)
	m.lastConsumerActivity = time.Now()
	assert.True(t, m.shouldOpen())
}

func TestShouldOpenFalseWhenCooldownElapsedAndNoStreamState(t *testing.T) {
	m := newTestMachine(fixedKeys{keys: []models.InterestKey{{EventType: "channel.chat.message"}}}, fixedConsumers{}, time.Minute)
	m.lastConsumerActivity = time.Now().Add(-time.Hour)
	assert.False(t, m.shouldOpen())
}

func TestShouldSuspendFalseWhenConsumerHasActiveWS(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{active: true}, time.Minute)
	m.lastConsumerActivity = time.Now().Add(-time.Hour)
	assert.False(t, m.shouldSuspend())
}

func TestShouldSuspendFalseWhenStreamStateInterestExists(t *testing.T) {
	m := newTestMachine(fixedKeys{keys: []models.InterestKey{{EventType: "stream.offline"}}}, fixedConsumers{}, time.Minute)
	m.lastConsumerActivity = time.Now().Add(-time.Hour)
	assert.False(t, m.shouldSuspend())
}

func TestShouldSuspendTrueWhenCooldownElapsedNoConsumersNoStreamState(t *testing.T) {
	m := newTestMachine(fixedKeys{keys: []models.InterestKey{{EventType: "channel.chat.message"}}}, fixedConsumers{}, time.Minute)
	m.lastConsumerActivity = time.Now().Add(-time.Hour)
	assert.True(t, m.shouldSuspend())
}

func TestStateStringCoversAllStates(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "opening", Opening.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "cooldown_suspended", CooldownSuspended.String())
}

func TestCurrentSessionReflectsState(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{}, time.Minute)
	id, active := m.CurrentSession()
	assert.Empty(t, id)
	assert.False(t, active)
}

func TestClearSessionIfStaleClearsOnMatch(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{}, time.Minute)
	m.sessionID = "sess-1"

	assert.True(t, m.ClearSessionIfStale("sess-1"))
	id, _ := m.CurrentSession()
	assert.Empty(t, id)
}

func TestClearSessionIfStaleNoopOnMismatch(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{}, time.Minute)
	m.sessionID = "sess-2"

	assert.False(t, m.ClearSessionIfStale("sess-1"))
	id, _ := m.CurrentSession()
	assert.Equal(t, "sess-2", id)
}

func TestClearSessionIfStaleNoopOnEmptyArg(t *testing.T) {
	m := newTestMachine(fixedKeys{}, fixedConsumers{}, time.Minute)
	m.sessionID = "sess-1"

	assert.False(t, m.ClearSessionIfStale(""))
	id, _ := m.CurrentSession()
	assert.Equal(t, "sess-1", id)
}
