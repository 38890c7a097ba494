package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwld/twitch-service/internal/twitchapi"
)

func TestExtractTokenFromTwitchURL(t *testing.T) {
	assert.Equal(t, "shroud", ExtractToken("https://twitch.tv/shroud"))
	assert.Equal(t, "shroud", ExtractToken("https://www.twitch.tv/shroud/clip/abc"))
}

func TestExtractTokenStripsAtAndQuery(t *testing.T) {
	assert.Equal(t, "shroud", ExtractToken("@shroud"))
	assert.Equal(t, "shroud", ExtractToken("shroud?foo=bar"))
}

func TestExtractTokenPassesThroughNumericID(t *testing.T) {
	assert.Equal(t, "123456", ExtractToken("123456"))
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, IsNumeric("123456"))
	assert.False(t, IsNumeric("shroud"))
	assert.False(t, IsNumeric(""))
}

func TestResolveBroadcasterIDPassesThroughNumeric(t *testing.T) {
	id, err := ResolveBroadcasterID(context.Background(), twitchapi.NewFake(), "222")
	require.NoError(t, err)
	assert.Equal(t, "222", id)
}

func TestResolveBroadcasterIDResolvesLogin(t *testing.T) {
	fake := twitchapi.NewFake()
	id, err := ResolveBroadcasterID(context.Background(), fake, "https://twitch.tv/shroud")
	require.NoError(t, err)
	assert.Equal(t, "shroud", id) // Fake.GetUserByLoginApp echoes login back as the id placeholder
}

func TestResolveBroadcasterIDRejectsEmpty(t *testing.T) {
	_, err := ResolveBroadcasterID(context.Background(), twitchapi.NewFake(), "   ")
	assert.Error(t, err)
}
