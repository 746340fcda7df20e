package utils

// TruncateString truncates a string to at most max bytes, used for logging
// previews of request and response bodies.
func TruncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Preview returns a safe, truncated string representation of a byte slice
// for logging purposes.
func Preview(b []byte, max int) string {
	if b == nil {
		return ""
	}
	return TruncateString(string(b), max)
}
