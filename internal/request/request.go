// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package request makes JSON HTTP requests to APIs like the Telegram Bot API.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/tgdrive/internal/version"
)

// DefaultClient is used when [Params] has no HTTPClient.
var DefaultClient = &http.Client{
	Timeout: 10 * time.Second,
}

// maxResponseSize limits how much of a response body is read. API responses
// are small; downloads don't go through this package.
const maxResponseSize = 8 << 20

// Params defines the parameters needed for making an HTTP request.
type Params struct {
	// Method is the HTTP method (GET, POST, etc.) for the request.
	Method string
	// URL is the target URL of the request.
	URL string
	// Headers is a map of key-value pairs for additional request headers.
	Headers map[string]string
	// Body is any data to be sent in the request body. It will be marshaled to
	// JSON.
	Body any
	// HTTPClient is an optional custom HTTP client object to use for the request.
	// If not provided, DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// StatusError is returned when the server responds with a status code other
// than 200 OK.
type StatusError struct {
	StatusCode int
	Body       []byte
	// RetryAfter is the delay from the Retry-After header, if the server sent
	// one in seconds.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("want 200, got %d: %s", e.StatusCode, e.Body)
}

// IgnoreResponse can be passed as a type parameter to [Make] when the response
// body is not needed.
type IgnoreResponse struct{}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (se *scrubbedError) Error() string {
	if se.scrubber != nil {
		return se.scrubber.Replace(se.err.Error())
	}
	return se.err.Error()
}

func (se *scrubbedError) Unwrap() error { return se.err }

// Scrub returns err with its message passed through scrubber. The result
// still unwraps to err.
func Scrub(err error, scrubber *strings.Replacer) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, scrubber: scrubber}
}

func scrubErr(err error, scrubber *strings.Replacer) error { return Scrub(err, scrubber) }

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Make makes a JSON HTTP request with the provided parameters and unmarshals
// the JSON response body into the specified type.
//
// Non-200 responses are reported as a *[StatusError] wrapped in an error that
// mentions the request method and URL.
func Make[Response any](ctx context.Context, p Params) (Response, error) {
	var resp Response

	var br io.Reader
	if p.Body != nil {
		data, err := json.Marshal(p.Body)
		if err != nil {
			return resp, scrubErr(err, p.Scrubber)
		}
		br = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, br)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}

	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if br != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpc := DefaultClient
	if p.HTTPClient != nil {
		httpc = p.HTTPClient
	}

	res, err := httpc.Do(req)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize+1))
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}
	if len(b) > maxResponseSize {
		return resp, scrubErr(fmt.Errorf("%s %q: response is larger than %d bytes", p.Method, p.URL, maxResponseSize), p.Scrubber)
	}

	if res.StatusCode != http.StatusOK {
		return resp, scrubErr(fmt.Errorf("%s %q: %w", p.Method, p.URL, &StatusError{
			StatusCode: res.StatusCode,
			Body:       b,
			RetryAfter: retryAfter(res.Header),
		}), p.Scrubber)
	}

	if _, ok := any(resp).(IgnoreResponse); ok {
		return resp, nil
	}

	if err := json.Unmarshal(b, &resp); err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}

	return resp, nil
}
