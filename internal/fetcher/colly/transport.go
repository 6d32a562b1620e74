package collyfetcher

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DavidLozzi/starwars-graph/internal/metrics"
)

// instrumentedTransport records one metrics sample per outbound round trip,
// including each hop of a redirect chain.
type instrumentedTransport struct {
	base http.RoundTripper
	now  func() time.Time
}

func newInstrumentedTransport(base http.RoundTripper) *instrumentedTransport {
	return &instrumentedTransport{base: base, now: time.Now}
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("instrumented transport received nil request")
	}
	start := t.now()
	resp, err := t.base.RoundTrip(req)
	site := metrics.SanitizeSite(req.URL.String())
	if err != nil {
		metrics.ObserveRoundTrip(site, 0, t.now().Sub(start))
		return nil, fmt.Errorf("fetch round trip: %w", err)
	}
	metrics.ObserveRoundTrip(site, resp.StatusCode, t.now().Sub(start))
	return resp, nil
}
