// Package http provides the outbound HTTP client used for discovery and
// image downloads.
//
// This package handles:
//   - Rate limiting through a shared [ratelimit.Limiter]
//   - Bounded request timeouts
//   - Content-Length ceilings checked before any body is read
//   - Distinct error kinds for timeouts, connection failures, oversize
//     bodies and non-2xx statuses
//   - Optional bounded retries with exponential backoff (off by default)
//
// Redirects are not followed; a 3xx response is reported as a [StatusError].
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions(), limiter)
//
//	resp, err := client.Get(ctx, url)
//	if err != nil {
//	    // errors.Is(err, http.ErrTooLarge), http.ErrTimeout, ...
//	}
//	defer resp.Body.Close()
package http
