package transport

import (
	"net/http"
	"net/url"
	"strings"
)

// NextLink returns the rel="next" URL of an RFC 8288 Link header, as sent
// by paginated APIs, or "" when there is no next page.
func NextLink(resp *http.Response) string {
	for _, header := range resp.Header.Values("Link") {
		for _, link := range strings.Split(header, ",") {
			target, params, ok := strings.Cut(strings.TrimSpace(link), ";")
			if !ok {
				continue
			}
			for _, p := range strings.Split(params, ";") {
				if strings.TrimSpace(p) == `rel="next"` {
					return strings.Trim(strings.TrimSpace(target), "<>")
				}
			}
		}
	}
	return ""
}

// URL joins base and path and sets the query parameters.
func URL(base, path string, query url.Values) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
