package headers

import (
	"net/http"
	"strings"
)

// ParseHeaders converts an array of header strings ("Key: Value") into a map.
// Entries without a colon or with an empty key are ignored.
func ParseHeaders(h []string) map[string]string {
	m := make(map[string]string)
	for _, hdr := range h {
		parts := strings.SplitN(hdr, ":", 2)
		if len(parts) == 2 {
			if k := strings.TrimSpace(parts[0]); k != "" {
				m[k] = strings.TrimSpace(parts[1])
			}
		}
	}
	return m
}

// Apply sets every header in m on req
func Apply(req *http.Request, m map[string]string) {
	for k, v := range m {
		req.Header.Set(k, v)
	}
}
