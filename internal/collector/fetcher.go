package collector

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/intel-cli/internal/resilience"
)

// fetchResult carries everything the collectors need from one HTTP fetch.
type fetchResult struct {
	Body       []byte
	FinalURL   string
	StatusCode int
}

// fetcher wraps net/http with rate limiting and retry. Every collector that
// talks HTTP goes through one fetcher so per-source pacing holds across
// retries.
type fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	userAgent string
	maxBody   int64
}

func newFetcher(timeout time.Duration, ratePerSec float64, userAgent string, maxBody int64, retry resilience.RetryConfig) *fetcher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		retry:     retry,
		userAgent: userAgent,
		maxBody:   maxBody,
	}
}

// fetch GETs a URL with retry on transient failures. Redirects are followed;
// FinalURL reports where the response actually came from so callers can flag
// moved pages. Non-2xx terminal statuses return an error.
func (f *fetcher) fetch(ctx context.Context, url string) (*fetchResult, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*fetchResult, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: create request")
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: do"), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), 0)
		}

		if resp.StatusCode >= 400 {
			err := eris.Errorf("fetch: status %d for %s", resp.StatusCode, url)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		finalURL := url
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}

		return &fetchResult{
			Body:       body,
			FinalURL:   finalURL,
			StatusCode: resp.StatusCode,
		}, nil
	})
}

// redirected reports whether the response landed somewhere other than the
// requested URL, ignoring a bare trailing-slash difference.
func (r *fetchResult) redirected(requested string) bool {
	if r.FinalURL == requested {
		return false
	}
	trim := func(s string) string {
		for len(s) > 0 && s[len(s)-1] == '/' {
			s = s[:len(s)-1]
		}
		return s
	}
	return trim(r.FinalURL) != trim(requested)
}
