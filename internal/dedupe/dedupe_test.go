package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsNewOncePerID(t *testing.T) {
	d := New(time.Minute)
	assert.True(t, d.IsNew("m1"))
	assert.False(t, d.IsNew("m1"))
	assert.False(t, d.IsNew("m1"))
}

func TestIsNewRejectsEmpty(t *testing.T) {
	d := New(time.Minute)
	assert.False(t, d.IsNew(""))
}

func TestIsNewAfterExpiry(t *testing.T) {
	fakeNow := time.Now()
	d := New(time.Minute)
	d.now = func() time.Time { return fakeNow }

	assert.True(t, d.IsNew("m1"))
	assert.False(t, d.IsNew("m1"))

	fakeNow = fakeNow.Add(2 * time.Minute)
	assert.True(t, d.IsNew("m1"))
}

func TestPruneRemovesExpiredEntries(t *testing.T) {
	fakeNow := time.Now()
	d := New(time.Minute)
	d.now = func() time.Time { return fakeNow }

	d.IsNew("m1")
	d.IsNew("m2")
	assert.Equal(t, 2, d.Len())

	fakeNow = fakeNow.Add(2 * time.Minute)
	removed := d.Prune()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, d.Len())
}
