package httpx

import (
	"errors"
	"net/http"
)

// ErrTooManyRedirects is returned when the redirect hop limit is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// RedirectPolicy returns a CheckRedirect function that follows redirects
// until maxHops is reached. maxHops <= 0 leaves net/http's default of 10.
func RedirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if maxHops > 0 && len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		if len(via) >= 10 {
			return ErrTooManyRedirects
		}
		return nil
	}
}

// redirectHops counts the redirects that led to resp.
func redirectHops(resp *http.Response) int {
	hops := 0
	for req := resp.Request; req != nil && req.Response != nil; req = req.Response.Request {
		hops++
	}
	return hops
}
