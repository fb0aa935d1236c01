// Package fetcher moves source documents from HTTP and FTP endpoints to the
// connectors and parses the formats they arrive in (CSV, JSON, XLSX, ZIP).
package fetcher

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher downloads remote source documents.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
	DownloadToFile(ctx context.Context, url, path string) (int64, error)

	// DownloadIfChanged fetches only when the server's ETag differs from the
	// one recorded by the previous ingest. Returns (body, newETag, changed).
	// An unchanged document returns a nil body.
	DownloadIfChanged(ctx context.Context, url, etag string) (io.ReadCloser, string, bool, error)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// PerHost rate-limits requests per host so bulk connector pulls stay
	// polite to government mirrors.
	PerHost map[string]*rate.Limiter
}

// HTTPFetcher downloads over HTTP with retry, backoff, and per-host rate
// limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	log    *zap.Logger
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "archetype-cli/1.0"
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		log:    zap.L().With(zap.String("component", "fetcher")),
	}
}

func (f *HTTPFetcher) wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrap(err, "fetcher: parse url")
	}
	if lim, ok := f.opts.PerHost[u.Host]; ok {
		if err := lim.Wait(ctx); err != nil {
			return eris.Wrap(err, "fetcher: rate limit wait")
		}
	}
	return nil
}

// get performs one GET with retry on 5xx, 429, and transport errors.
// Exponential backoff with jitter; a Retry-After-free 429 backs off the same
// way a 503 does.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	if err := f.wait(ctx, rawURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			backoff += time.Duration(rand.Int64N(int64(time.Second)))
			f.log.Debug("retrying download",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "fetcher: cancelled during backoff")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: build request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = eris.Wrapf(err, "fetcher: GET %s", rawURL)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = eris.Errorf("fetcher: GET %s: status %d", rawURL, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, eris.Wrapf(lastErr, "fetcher: GET %s: retries exhausted", rawURL)
}

func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, eris.Errorf("fetcher: GET %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer out.Close()

	n, err := io.Copy(out, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}

	resp, err := f.get(ctx, rawURL, header)
	if err != nil {
		return nil, "", false, err
	}

	if resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		return nil, etag, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", false, eris.Errorf("fetcher: GET %s: status %d", rawURL, resp.StatusCode)
	}

	return resp.Body, resp.Header.Get("ETag"), true, nil
}
