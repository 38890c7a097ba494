// Package redact masks sensitive values before they reach logs, audit
// records, or EventTrace rows. Grounded on the teacher's
// pkg/masking package: a small set of code-based structural maskers run
// first, then compiled regex patterns sweep whatever remains.
package redact

// Masker is a structural masker: it inspects content before any regex sweep
// and can rewrite it with awareness of shape (JSON keys, URL query items)
// that a regex alone would miss.
type Masker interface {
	// Name identifies this masker for logging.
	Name() string
	// AppliesTo reports whether this masker has anything to do with content.
	AppliesTo(content string) bool
	// Mask returns content with sensitive values replaced.
	Mask(content string) string
}
