package crawler

import (
	"net/http"
	"strings"
)

const headerSeparator = ";;"

// ParseHeaders decodes the compact header encoding used by clients:
// pairs separated by ";;", each written "key: value" or "key:value".
// Entries without a colon or with an empty key are skipped.
func ParseHeaders(raw string) http.Header {
	headers := make(http.Header)
	if raw == "" {
		return headers
	}
	for _, entry := range strings.Split(raw, headerSeparator) {
		key, value, ok := strings.Cut(entry, ": ")
		if !ok {
			key, value, ok = strings.Cut(entry, ":")
		}
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers.Set(key, strings.TrimSpace(value))
	}
	return headers
}
