package contextbuild

import "regexp"

// scrubPatterns match credential-shaped strings that must never reach an
// assembled bundle. Values are replaced, key names survive so the reader
// still sees what was there.
var scrubPatterns = []*regexp.Regexp{
	// key = "value" style assignments for sensitive names
	regexp.MustCompile(`(?i)((?:api[_-]?key|secret|token|password|passwd|credential)s?["']?\s*[:=]\s*)["']?[^\s"',;]+["']?`),
	// Authorization headers
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9_\-.~+/]+=*`),
	// AWS access key IDs
	regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
	// Private key blocks
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

const redacted = "[REDACTED]"

// Scrub redacts credential-shaped content before it enters a bundle.
func Scrub(content string) string {
	for i, re := range scrubPatterns {
		switch i {
		case 0, 1:
			content = re.ReplaceAllString(content, "${1}"+redacted)
		default:
			content = re.ReplaceAllString(content, redacted)
		}
	}
	return content
}
