package alipay

import (
	"net/url"
	"sort"
	"strings"
)

// signContent builds the canonical "k=v&k=v" string: keys sorted, empty
// values and the excluded keys dropped, values not URL-encoded.
func signContent(params url.Values, exclude ...string) string {
	skip := map[string]bool{}
	for _, k := range exclude {
		skip[k] = true
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if skip[k] || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}
