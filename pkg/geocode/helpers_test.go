package geocode

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/time/rate"
)

// unlimited returns a limiter that never blocks.
func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// newTestGeocoder builds a geocoder that talks to a test server.
func newTestGeocoder(baseURL string) *geocoder {
	return &geocoder{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		userAgent:  "riskmap-test",
		limiter:    unlimited(),
	}
}

// nominatimServer answers searches from a fixed table of query to JSON body.
// Unknown queries get an empty result list.
func nominatimServer(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body, ok := answers[r.URL.Query().Get("q")]
		if !ok {
			body = `[]`
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// hostRedirect sends requests for the public Nominatim host to a test
// server, keeping path and query intact.
type hostRedirect struct {
	host   string
	target *url.URL
}

func (h hostRedirect) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != h.host {
		return http.DefaultTransport.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

// redirectClient returns an HTTP client whose requests to DefaultBaseURL
// reach srv instead.
func redirectClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	public, err := url.Parse(DefaultBaseURL)
	if err != nil {
		t.Fatal(err)
	}
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Transport: hostRedirect{host: public.Host, target: target}}
}
