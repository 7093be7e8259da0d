package errfmt

import "regexp"

// sensitivePatterns mirrors the original service's sanitize_error_message
// table: secret-shaped key=value pairs, IPv4 literals, email addresses, and
// connection URIs are redacted before a message reaches a client or a log
// line.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password[=:\s]+[^\s'"]+`),
	regexp.MustCompile(`(?i)token[=:\s]+[^\s'"]+`),
	regexp.MustCompile(`(?i)key[=:\s]+[^\s'"]+`),
	regexp.MustCompile(`(?i)secret[=:\s]+[^\s'"]+`),
	regexp.MustCompile(`(?i)auth[=:\s]+[^\s'"]+`),
	regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`(?i)mongodb://\S+`),
	regexp.MustCompile(`(?i)postgresql://\S+`),
	regexp.MustCompile(`(?i)mysql://\S+`),
	regexp.MustCompile(`(?i)milvus://\S+`),
}

// controlChars strips CR, LF and tab (replaced with a space) plus other
// C0/C1 control characters (removed) to prevent log forging.
var controlChars = regexp.MustCompile(`[\r\n\t]`)
var otherControl = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)

// SanitizeForLog makes a string safe to place in a log line: CR, LF and
// tab become spaces, other control characters are removed, and the result
// is length-capped to avoid log flooding.
func SanitizeForLog(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	s = otherControl.ReplaceAllString(s, "")
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen-3] + "..."
	}
	return s
}

// SanitizeMessage redacts secret-shaped substrings from an error message,
// then applies SanitizeForLog. It is applied to every outbound error
// "details" field and every log line containing externally-derived
// strings.
func SanitizeMessage(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return SanitizeForLog(s)
}
