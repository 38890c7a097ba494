package redact

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "", MaskValue(""))
	assert.Equal(t, "***", MaskValue("ab"))
	assert.Equal(t, "***cdef", MaskValue("abcdef"))
}

func TestServiceMaskJSONFields(t *testing.T) {
	svc := NewService()
	in := `{"access_token":"abcdefgh12345","broadcaster_user_id":"222","nested":{"client_secret":"supersecretvalue"}}`
	out := svc.Mask(in)

	assert.NotContains(t, out, "abcdefgh12345")
	assert.NotContains(t, out, "supersecretvalue")
	assert.Contains(t, out, "222") // non-sensitive fields pass through
	assert.Contains(t, out, "***2345")
}

func TestServiceMaskBearerHeader(t *testing.T) {
	svc := NewService()
	in := "Authorization: Bearer abc123def456"
	out := svc.Mask(in)
	assert.False(t, strings.Contains(out, "abc123def456"))
	assert.True(t, strings.Contains(out, "Bearer"))
}

func TestServiceMaskURL(t *testing.T) {
	svc := NewService()
	u, err := url.Parse("https://example.com/callback?code=plain&client_secret=topsecretvalue")
	require.NoError(t, err)

	out := svc.MaskURL(u)
	assert.Contains(t, out, "code=plain")
	assert.NotContains(t, out, "topsecretvalue")
}

func TestServiceTruncate(t *testing.T) {
	svc := NewService(WithTruncateLimit(40))
	out := svc.Truncate("this line is definitely much too long to keep in full")
	assert.Less(t, len(out), 60)
	assert.True(t, strings.HasSuffix(out, "...[truncated]"))

	short := "short line"
	assert.Equal(t, short, svc.Truncate(short))
}

func TestServiceMaskNonJSONPassesThroughFieldMasker(t *testing.T) {
	svc := NewService()
	in := "plain text with no secrets"
	assert.Equal(t, in, svc.Mask(in))
}
