// Package normalize implements B3's broadcaster identifier normalization:
// accept a numeric id, a login, or a twitch.tv/<login> URL, and resolve to
// the canonical numeric broadcaster id before storage. Grounded on the
// original's app/core/normalization.py (the URL/login-extraction half); the
// login-to-id resolution step is new since the original deferred it to the
// request handler inline.
package normalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kwld/twitch-service/internal/twitchapi"
)

// ExtractToken strips a twitch.tv URL, leading "@", and any path/query
// suffix from raw, returning either a numeric id or a login unresolved.
func ExtractToken(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if host, path, ok := splitURL(value); ok && strings.HasSuffix(strings.ToLower(host), "twitch.tv") {
			if path != "" {
				value = strings.SplitN(path, "/", 2)[0]
			}
		}
	}
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "@")
	if i := strings.Index(value, "/"); i >= 0 {
		value = value[:i]
	}
	if i := strings.Index(value, "?"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func splitURL(raw string) (host, path string, ok bool) {
	rest := raw
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			ok = true
			break
		}
	}
	if !ok {
		return "", "", false
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	return rest, "", true
}

// IsNumeric reports whether token is already a Twitch numeric user id.
func IsNumeric(token string) bool {
	if token == "" {
		return false
	}
	_, err := strconv.ParseUint(token, 10, 64)
	return err == nil
}

// ResolveBroadcasterID extracts the token from raw and, if it is not
// already numeric, resolves it to the canonical numeric id via the
// out-of-scope Twitch app-token user lookup (B3).
func ResolveBroadcasterID(ctx context.Context, twitch twitchapi.Client, raw string) (string, error) {
	token := ExtractToken(raw)
	if token == "" {
		return "", fmt.Errorf("normalize: empty broadcaster identifier")
	}
	if IsNumeric(token) {
		return token, nil
	}
	user, err := twitch.GetUserByLoginApp(ctx, token)
	if err != nil {
		return "", fmt.Errorf("normalize: resolve login %q: %w", token, err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("normalize: login %q has no matching user", token)
	}
	return user.ID, nil
}
