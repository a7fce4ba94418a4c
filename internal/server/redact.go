package server

import "strings"

// redactURI drops query strings, which may carry tokens from misconfigured
// clients.
func redactURI(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
