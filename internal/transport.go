package internal

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// throttledTransport rate limits outbound requests to a provider, mirroring
// the teacher's upstream HTTP client wiring so every provider gets the same
// backoff behavior on 429/403 instead of each client hand-rolling its own.
type throttledTransport struct {
	http.RoundTripper
	*rate.Limiter
}

func (t throttledTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	resp, err := t.RoundTripper.RoundTrip(r)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		Log(r.Context()).Warn("backing off after throttle response",
			"status", resp.StatusCode, "limit", t.Limiter.Limit())
		orig := t.Limiter.Limit()
		t.Limiter.SetLimit(rate.Every(time.Minute))
		t.Limiter.SetLimitAt(time.Now().Add(time.Minute), orig)
	}

	return resp, err
}

// scopedTransport pins requests to a particular host and scheme, preventing
// a redirect response from leaking the Authorization/API-key header to an
// unexpected host.
type scopedTransport struct {
	host string
	http.RoundTripper
}

func (t scopedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "https"
	r.URL.Host = t.host
	return t.RoundTripper.RoundTrip(r)
}

// headerTransport adds a header (typically an API key) to every request.
// Best used wrapped by a scopedTransport so the header can't leak to a
// redirect target.
type headerTransport struct {
	name, value string
	http.RoundTripper
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(t.name, t.value)
	return t.RoundTripper.RoundTrip(r)
}

// errorProxyTransport converts a non-2xx upstream response into a statusErr,
// so provider clients can use errors.Is/errors.As instead of checking
// resp.StatusCode everywhere.
type errorProxyTransport struct {
	http.RoundTripper
}

func (t errorProxyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.RoundTripper.RoundTrip(r)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode >= 400 {
		return resp, statusErr(resp.StatusCode)
	}
	return resp, nil
}

// newProviderClient builds the http.Client a provider's REST calls use: rate
// limited, host-scoped, API-key-injecting, and error-translating, layered in
// the teacher's onion order (outermost first): throttle -> scope -> header ->
// errorProxy -> DefaultTransport.
func newProviderClient(host string, rps float64, apiKeyHeader string, apiKey Secret) *http.Client {
	var rt http.RoundTripper = errorProxyTransport{http.DefaultTransport}
	if apiKeyHeader != "" && apiKey != "" {
		rt = headerTransport{name: apiKeyHeader, value: apiKey.Get(), RoundTripper: rt}
	}
	rt = scopedTransport{host: host, RoundTripper: rt}
	rt = throttledTransport{Limiter: rate.NewLimiter(rate.Limit(rps), 1), RoundTripper: rt}

	return &http.Client{
		Transport: rt,
		Timeout:   10 * time.Second, // hard provider-call deadline, §4.3
	}
}
