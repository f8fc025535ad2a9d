// Utilities for rendering failed requests as cURL commands.
package shared

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Headers that must never appear verbatim in logs.
var redactedHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-api-key":     true,
}

// CurlCommand renders an HTTP request as a copy-pasteable cURL command for
// failure logs. Credential headers are redacted; bodies are included only up
// to maxBody bytes.
func CurlCommand(req *http.Request, body []byte, maxBody int) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(req.Method)
	b.WriteString(" '")
	b.WriteString(req.URL.String())
	b.WriteString("'")

	keys := make([]string, 0, len(req.Header))
	for key := range req.Header {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := req.Header.Get(key)
		if redactedHeaders[strings.ToLower(key)] {
			value = "<redacted>"
		}
		fmt.Fprintf(&b, " -H '%s: %s'", key, value)
	}

	if len(body) > 0 {
		if maxBody > 0 && len(body) > maxBody {
			body = body[:maxBody]
		}
		fmt.Fprintf(&b, " -d '%s'", strings.ReplaceAll(string(body), "'", `'\''`))
	}

	return b.String()
}
