package client

import (
	"net/http"
	"net/url"

	"github.com/digitallysavvy/go-gemini/pkg/internal/httpx"
)

// roundTripFunc adapts a function to http.RoundTripper
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// redirectTransport rewrites every request onto the fake server while
// keeping the path the coordinator built
func redirectTransport(target string) *httpx.Client {
	parsed, _ := url.Parse(target)
	return httpx.NewClient(httpx.Config{
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
				req.URL.Scheme = parsed.Scheme
				req.URL.Host = parsed.Host
				return http.DefaultTransport.RoundTrip(req)
			}),
		},
	})
}
