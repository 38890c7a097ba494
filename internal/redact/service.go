package redact

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatternSources sweeps common bearer/basic-auth header shapes and
// key=value secrets that the structural FieldMasker's JSON-only walk can't
// see (e.g. raw query strings, log lines that embed "Authorization: Bearer ...").
var builtinPatternSources = []CompiledPattern{
	{Name: "bearer-token", Regex: regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._-]+`), Replacement: "${1}***"},
	{Name: "basic-auth", Regex: regexp.MustCompile(`(?i)(basic\s+)[a-z0-9+/=]+`), Replacement: "${1}***"},
	{Name: "kv-secret", Regex: regexp.MustCompile(`(?i)((?:token|secret|password|api[_-]?key)\s*[:=]\s*)([^\s&"']{5,})`), Replacement: "${1}***"},
}

// DefaultTruncateLimit is the default character budget for a log line before
// it is truncated with an explicit marker (§7).
const DefaultTruncateLimit = 8192

const truncatedMarker = "...[truncated]"

// Service masks sensitive data before it reaches logs, audit trails, or
// EventTrace rows. Created once at startup (singleton); stateless aside from
// its compiled patterns, so it is safe for concurrent use.
type Service struct {
	patterns      []*CompiledPattern
	codeMaskers   []Masker
	truncateLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithTruncateLimit overrides DefaultTruncateLimit.
func WithTruncateLimit(n int) Option {
	return func(s *Service) { s.truncateLimit = n }
}

// NewService creates a masking service with all built-in patterns compiled
// eagerly and the structural field masker registered.
func NewService(opts ...Option) *Service {
	s := &Service{
		codeMaskers:   []Masker{FieldMasker{}},
		truncateLimit: DefaultTruncateLimit,
	}
	for _, src := range builtinPatternSources {
		cp := src
		s.patterns = append(s.patterns, &cp)
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("redaction service initialized",
		"patterns", len(s.patterns), "code_maskers", len(s.codeMaskers))
	return s
}

// Mask applies structural masking then the regex sweep to arbitrary text
// (a JSON payload, a log line, a header value). It never errors: a masking
// failure falls back to returning the original content unchanged, since
// dropping an EventTrace row is worse than risking an unmasked audit record
// that the caller can still redact manually.
func (s *Service) Mask(content string) string {
	masked := content
	for _, masker := range s.codeMaskers {
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}
	for _, pattern := range s.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

// MaskURL returns u with any query parameter whose key matches the
// sensitive-key filter replaced by its masked form (§6 webhook-target /
// audit handling: "URL query items whose key matches the sensitive-key
// filter are likewise masked").
func (s *Service) MaskURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	q := clone.Query()
	for key, values := range q {
		if !isSensitiveKey(key) {
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = MaskValue(v)
		}
		q[key] = masked
	}
	clone.RawQuery = q.Encode()
	return clone.String()
}

// Truncate enforces the configured character budget on a log line,
// appending an explicit marker when truncation occurs (§7).
func (s *Service) Truncate(line string) string {
	if len(line) <= s.truncateLimit {
		return line
	}
	cut := s.truncateLimit - len(truncatedMarker)
	if cut < 0 {
		cut = 0
	}
	return fmt.Sprintf("%s%s", line[:cut], truncatedMarker)
}
