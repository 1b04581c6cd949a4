package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"syscall"
	"time"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// FetchCause classifies why a feed fetch failed.
type FetchCause string

const (
	CauseTimeout           FetchCause = "timeout"
	CauseConnectionRefused FetchCause = "connection_refused"
	CauseHTTPStatus        FetchCause = "http_status"
	CauseTransport         FetchCause = "transport"
)

// FetchError is a per-source fetch failure. It never invalidates results
// from other sources; the caller degrades to a partial agenda.
type FetchError struct {
	SourceName string
	Cause      FetchCause
	StatusCode int // set when Cause == CauseHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Cause == CauseHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.SourceName, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.SourceName, e.Cause, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Source    model.Source
	Body      []byte
	FetchedAt time.Time
}

// Fetcher retrieves ICS feeds. One outbound request per source per
// invocation; no retries, no cache.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose requests are bounded by timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchAll fetches all sources concurrently, one goroutine per source,
// and collects results into fixed-size slots so the output order equals
// the input order no matter which fetch finishes first. A failed source
// yields a FetchError in errs; the remaining results are still returned.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.Source) ([]FetchResult, []*FetchError) {
	type slot struct {
		res FetchResult
		err *FetchError
	}
	slots := make([]slot, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src model.Source) {
			defer wg.Done()
			res, err := f.FetchOne(ctx, src)
			if err != nil {
				slots[i].err = err
				return
			}
			slots[i].res = res
		}(i, src)
	}
	wg.Wait()

	results := make([]FetchResult, 0, len(sources))
	errs := make([]*FetchError, 0)
	for i := range slots {
		if slots[i].err != nil {
			appLog.Warn("ics fetch failed",
				"source", slots[i].err.SourceName,
				"cause", string(slots[i].err.Cause),
				"err", slots[i].err.Err,
			)
			errs = append(errs, slots[i].err)
			continue
		}
		results = append(results, slots[i].res)
	}
	return results, errs
}

// FetchOne fetches a single feed. Only http/https URLs are accepted.
func (f *Fetcher) FetchOne(ctx context.Context, src model.Source) (FetchResult, *FetchError) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return FetchResult{}, &FetchError{SourceName: src.Name, Cause: CauseTransport, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return FetchResult{}, &FetchError{
			SourceName: src.Name,
			Cause:      CauseTransport,
			Err:        fmt.Errorf("unsupported scheme %q", u.Scheme),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, &FetchError{SourceName: src.Name, Cause: CauseTransport, Err: err}
	}

	appLog.Debug("ics fetch start", "source", src.Name, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, &FetchError{SourceName: src.Name, Cause: classify(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, &FetchError{
			SourceName: src.Name,
			Cause:      CauseHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{SourceName: src.Name, Cause: classify(err), Err: err}
	}

	appLog.Debug("ics fetch success", "source", src.Name, "bytes", len(body))

	return FetchResult{
		Source:    src,
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// classify maps a transport-level error onto the fetch cause taxonomy.
func classify(err error) FetchCause {
	switch {
	case errors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		return CauseTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return CauseConnectionRefused
	default:
		return CauseTransport
	}
}

// redactURL hides sensitive parts of a feed URL for logging purposes.
// Private feed URLs frequently embed access tokens in the path or query.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}

	return u[:j] + redactedSuffix
}
