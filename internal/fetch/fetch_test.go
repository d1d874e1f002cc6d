// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.astrophena.name/tgdrive/internal/testutil"
)

const testToken = "123456:secret"

var testTier = Tier{
	StandardLimit:   64,
	ExtendedLimit:   1024,
	MemoryThreshold: 16,
	Extended:        true,
}

func TestTier(t *testing.T) {
	t.Parallel()

	public := NewTier("https://api.telegram.org")
	selfHosted := NewTier("http://localhost:8081")

	testutil.AssertEqual(t, public.Limit(), int64(20<<20))
	testutil.AssertEqual(t, selfHosted.Limit(), int64(2<<30))
	// Nothing else changes between the two.
	testutil.AssertEqual(t, public.MemoryThreshold, selfHosted.MemoryThreshold)
	testutil.AssertEqual(t, public.Spill(MemoryThreshold-1), false)
	testutil.AssertEqual(t, public.Spill(MemoryThreshold), true)
}

func TestIsPublicGateway(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want bool
	}{
		"empty":         {in: "", want: true},
		"public":        {in: "https://api.telegram.org", want: true},
		"trailing path": {in: "https://api.telegram.org/", want: true},
		"uppercase":     {in: "https://API.Telegram.org", want: true},
		"local":         {in: "http://localhost:8081", want: false},
		"lookalike":     {in: "https://api.telegram.org.example.com", want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, IsPublicGateway(tc.in), tc.want)
		})
	}
}

func TestURL(t *testing.T) {
	t.Parallel()
	f := &Fetcher{Gateway: "http://localhost:8081/", Token: testToken}
	testutil.AssertEqual(t, f.URL("documents/file_1.pdf"), "http://localhost:8081/file/bot123456:secret/documents/file_1.pdf")
	f.Gateway = ""
	testutil.AssertEqual(t, f.URL("/photos/file_2.jpg"), "https://api.telegram.org/file/bot123456:secret/photos/file_2.jpg")
}

type gateway struct {
	requests atomic.Int32
	status   int
	body     []byte
}

func (g *gateway) client() *http.Client {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /file/{bot}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		g.requests.Add(1)
		if r.PathValue("bot") != "bot"+testToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if g.status != 0 {
			http.Error(w, http.StatusText(g.status), g.status)
			return
		}
		w.Write(g.body)
	})
	return testutil.MockHTTPClient(mux)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		tier          Tier
		body          []byte
		status        int
		declared      int64
		wantSpilled   bool
		wantErr       error
		wantStatus    int
		wantTemporary bool
		wantRequests  int32
	}{
		"in memory": {
			body:         bytes.Repeat([]byte("a"), 8),
			declared:     8,
			wantRequests: 1,
		},
		"just below threshold": {
			body:         bytes.Repeat([]byte("a"), 15),
			declared:     15,
			wantRequests: 1,
		},
		"at threshold": {
			body:         bytes.Repeat([]byte("b"), 16),
			declared:     16,
			wantSpilled:  true,
			wantRequests: 1,
		},
		"spilled": {
			body:         bytes.Repeat([]byte("c"), 500),
			declared:     500,
			wantSpilled:  true,
			wantRequests: 1,
		},
		"unknown size": {
			body:         bytes.Repeat([]byte("d"), 100),
			wantSpilled:  true,
			wantRequests: 1,
		},
		"too large": {
			declared:     2048,
			wantErr:      ErrFileTooLarge,
			wantRequests: 0,
		},
		"too large for public gateway": {
			tier:         Tier{StandardLimit: 64, ExtendedLimit: 1024, MemoryThreshold: 16},
			declared:     500,
			wantErr:      ErrFileTooLarge,
			wantRequests: 0,
		},
		"gateway sends more than limit": {
			body:         bytes.Repeat([]byte("e"), 2000),
			wantErr:      ErrFileTooLarge,
			wantRequests: 1,
		},
		"size mismatch": {
			body:         bytes.Repeat([]byte("f"), 32),
			declared:     40,
			wantErr:      errSizeMismatch,
			wantRequests: 1,
		},
		"not found": {
			status:       http.StatusNotFound,
			declared:     32,
			wantStatus:   http.StatusNotFound,
			wantRequests: 1,
		},
		"bad gateway": {
			status:        http.StatusBadGateway,
			declared:      32,
			wantStatus:    http.StatusBadGateway,
			wantTemporary: true,
			wantRequests:  1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			gw := &gateway{status: tc.status, body: tc.body}
			tier := tc.tier
			if tier == (Tier{}) {
				tier = testTier
			}
			dir := t.TempDir()
			f := &Fetcher{
				Gateway:    "http://localhost:8081",
				Token:      testToken,
				Tier:       tier,
				HTTPClient: gw.client(),
				TempDir:    dir,
			}

			p, err := f.Fetch(t.Context(), "documents/file_0", tc.declared)
			testutil.AssertEqual(t, gw.requests.Load(), tc.wantRequests)

			if tc.wantErr != nil || tc.wantStatus != 0 {
				if err == nil {
					p.Release()
					t.Fatal("Fetch must fail")
				}
				if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
					t.Fatalf("got error %v, want %v", err, tc.wantErr)
				}
				if tc.wantStatus != 0 {
					var fe *Error
					if !errors.As(err, &fe) {
						t.Fatalf("got %T, want *Error", err)
					}
					testutil.AssertEqual(t, fe.StatusCode, tc.wantStatus)
					testutil.AssertEqual(t, fe.Temporary(), tc.wantTemporary)
				}
				if n := len(testutil.DirEntries(t, dir)); n != 0 {
					t.Fatalf("%d temporary files left after failure", n)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEqual(t, p.Spilled(), tc.wantSpilled)
			testutil.AssertEqual(t, p.Size(), int64(len(tc.body)))

			wantTemps := 0
			if tc.wantSpilled {
				wantTemps = 1
			}
			testutil.AssertEqual(t, len(testutil.DirEntries(t, dir)), wantTemps)

			got, err := io.ReadAll(p)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, got, tc.body)

			if err := p.Release(); err != nil {
				t.Fatal(err)
			}
			if err := p.Release(); err != nil {
				t.Fatalf("second Release: %v", err)
			}
			testutil.AssertEqual(t, len(testutil.DirEntries(t, dir)), 0)
		})
	}
}

func TestFetchScrubsToken(t *testing.T) {
	t.Parallel()

	f := &Fetcher{
		Gateway: "http://localhost:8081",
		Token:   testToken,
		Tier:    testTier,
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection reset by peer")
			}),
		},
		TempDir: t.TempDir(),
	}

	_, err := f.Fetch(t.Context(), "documents/file_0", 8)
	if err == nil {
		t.Fatal("Fetch must fail")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("error leaks the token: %v", err)
	}
	if !strings.Contains(err.Error(), "[EXPUNGED]") {
		t.Fatalf("error %q must contain a scrubbed URL", err)
	}
	var fe *Error
	if !errors.As(err, &fe) || !fe.Temporary() {
		t.Fatalf("got %v, want temporary *Error", err)
	}
}

func TestFetchCancelRemovesTempFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	f := &Fetcher{
		Gateway:    srv.URL,
		Token:      testToken,
		Tier:       testTier,
		HTTPClient: srv.Client(),
		TempDir:    dir,
	}

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "videos/file_1.mp4", 512)
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("got %v, want *Error", err)
	}
	if !fe.Temporary() {
		t.Errorf("timeout must be temporary: %v", err)
	}
	testutil.AssertEqual(t, len(testutil.DirEntries(t, dir)), 0)
}

func TestErrorTemporary(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  *Error
		want bool
	}{
		"429":        {err: &Error{StatusCode: 429, Err: errors.New("slow down")}, want: true},
		"500":        {err: &Error{StatusCode: 500, Err: errors.New("oops")}, want: true},
		"404":        {err: &Error{StatusCode: 404, Err: errors.New("not found")}, want: false},
		"canceled":   {err: &Error{Err: context.Canceled}, want: false},
		"deadline":   {err: &Error{Err: context.DeadlineExceeded}, want: true},
		"mismatch":   {err: &Error{Err: errSizeMismatch}, want: false},
		"disk full":  {err: &Error{Err: errSpill}, want: false},
		"local path": {err: &Error{Err: errLocalPath}, want: false},
		"conn reset": {err: &Error{Err: errors.New("connection reset")}, want: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, tc.err.Temporary(), tc.want)
		})
	}
}

func TestFetchRejectsLocalPath(t *testing.T) {
	t.Parallel()

	f := &Fetcher{
		Gateway:    "http://localhost:8081",
		Token:      testToken,
		Tier:       NewTier("http://localhost:8081"),
		HTTPClient: testutil.MockHTTPClient(http.NotFoundHandler()),
	}
	_, err := f.Fetch(t.Context(), "/var/lib/telegram-bot-api/123456:secret/documents/file_1.pdf", 10)
	if !errors.Is(err, errLocalPath) {
		t.Fatalf("want errLocalPath, got %v", err)
	}
	if strings.Contains(err.Error(), "123456:secret") {
		t.Fatalf("error leaks the token: %v", err)
	}
}

func TestTooLargeError(t *testing.T) {
	t.Parallel()
	err := error(&TooLargeError{Size: 2 << 30, Limit: 20 << 20})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatal("TooLargeError must match ErrFileTooLarge")
	}
	testutil.AssertEqual(t, err.Error(), "file is too large: 2.0 GiB exceeds the limit of 20 MiB")
}

func TestMemoryPayloadRelease(t *testing.T) {
	t.Parallel()
	p := newMemoryPayload([]byte("hello"))
	for range 2 {
		if err := p.Release(); err != nil {
			t.Fatal(err)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
