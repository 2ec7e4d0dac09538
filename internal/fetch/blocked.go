package fetch

import (
	"bytes"
	"net/http"
)

// blockMarkers are fragments that show up in challenge or bot-wall pages
// instead of real content.
var blockMarkers = [][]byte{
	[]byte("Access Denied"),
	[]byte("verify you are human"),
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("captcha"),
}

// Blocked reports whether the response looks like bot blocking rather than
// a rendered inventory page.
func Blocked(status int, body []byte) bool {
	switch status {
	case http.StatusForbidden,
		http.StatusProxyAuthRequired,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return true
	}
	if status != http.StatusOK {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range blockMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}
