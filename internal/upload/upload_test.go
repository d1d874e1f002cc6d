// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"go.astrophena.name/tgdrive/internal/credstore"
	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/testutil"
)

type fakeCredentials struct {
	err error
}

func (c *fakeCredentials) Token(context.Context, int64) (*oauth2.Token, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &oauth2.Token{AccessToken: "access"}, nil
}

func (c *fakeCredentials) TokenSource(ctx context.Context, user int64) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access"})
}

type fakeProvider struct {
	calls int
	got   []byte
	req   CreateRequest
	err   error
}

func (p *fakeProvider) Create(_ context.Context, _ oauth2.TokenSource, req CreateRequest) (*File, error) {
	p.calls++
	p.req = req
	b, err := io.ReadAll(req.Media)
	if err != nil {
		return nil, err
	}
	p.got = b
	if req.Progress != nil {
		req.Progress(int64(len(b)), req.Size)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &File{ID: "file-id", Name: req.Name}, nil
}

type trackedPayload struct {
	fetch.Payload
	releases int
}

func (p *trackedPayload) Release() error {
	p.releases++
	return p.Payload.Release()
}

// payload fetches body through a real Fetcher, so the tests get a sealed
// fetch.Payload.
func payload(t *testing.T, body string) *trackedPayload {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /file/{bot}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	})
	f := &fetch.Fetcher{
		Gateway:    "http://localhost:8081",
		Token:      "token",
		Tier:       fetch.Tier{StandardLimit: 1 << 10, ExtendedLimit: 1 << 20, MemoryThreshold: 1 << 10, Extended: true},
		HTTPClient: testutil.MockHTTPClient(mux),
		TempDir:    t.TempDir(),
	}
	p, err := f.Fetch(t.Context(), "documents/file_0", int64(len(body)))
	if err != nil {
		t.Fatal(err)
	}
	return &trackedPayload{Payload: p}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	u := &Uploader{
		Credentials: &fakeCredentials{},
		Provider:    prov,
		Folder:      "folder-id",
	}
	p := payload(t, "hello, world")

	var progress []int64
	f, err := u.Upload(t.Context(), p, "hello.txt", 1, func(sent, total int64) {
		progress = append(progress, sent, total)
	})
	if err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, f, &File{
		ID:   "file-id",
		Name: "hello.txt",
		Link: "https://drive.google.com/file/d/file-id/view",
		Size: 12,
	})
	testutil.AssertEqual(t, string(prov.got), "hello, world")
	testutil.AssertEqual(t, prov.req.Parent, "folder-id")
	testutil.AssertEqual(t, progress, []int64{12, 12})
	testutil.AssertEqual(t, p.releases, 1)
}

func TestUploadNotAuthorized(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"not authorized": credstore.ErrNotAuthorized,
		"backend down":   errors.New("connection refused"),
	}
	for name, credErr := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			prov := &fakeProvider{}
			u := &Uploader{
				Credentials: &fakeCredentials{err: credErr},
				Provider:    prov,
			}
			p := payload(t, "data")

			_, err := u.Upload(t.Context(), p, "data.bin", 1, nil)
			if !errors.Is(err, credstore.ErrNotAuthorized) {
				t.Fatalf("got %v, want ErrNotAuthorized", err)
			}
			testutil.AssertEqual(t, prov.calls, 0)
			testutil.AssertEqual(t, p.releases, 1)
		})
	}
}

func TestUploadProviderError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err           error
		wantStatus    int
		wantReason    string
		wantTemporary bool
		wantQuota     bool
	}{
		"quota": {
			err: &googleapi.Error{
				Code:   403,
				Errors: []googleapi.ErrorItem{{Reason: "storageQuotaExceeded"}},
			},
			wantStatus: 403,
			wantReason: "storageQuotaExceeded",
			wantQuota:  true,
		},
		"rate limit": {
			err: &googleapi.Error{
				Code:   403,
				Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
			},
			wantStatus:    403,
			wantReason:    "userRateLimitExceeded",
			wantTemporary: true,
		},
		"server error": {
			err:           &googleapi.Error{Code: 503},
			wantStatus:    503,
			wantTemporary: true,
		},
		"permission": {
			err:        &googleapi.Error{Code: 404, Errors: []googleapi.ErrorItem{{Reason: "notFound"}}},
			wantStatus: 404,
			wantReason: "notFound",
		},
		"deadline": {
			err:           context.DeadlineExceeded,
			wantTemporary: true,
		},
		"canceled": {
			err: context.Canceled,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			u := &Uploader{
				Credentials: &fakeCredentials{},
				Provider:    &fakeProvider{err: tc.err},
			}
			p := payload(t, "data")

			_, err := u.Upload(t.Context(), p, "data.bin", 1, nil)
			var ue *Error
			if !errors.As(err, &ue) {
				t.Fatalf("got %v, want *Error", err)
			}
			testutil.AssertEqual(t, ue.StatusCode, tc.wantStatus)
			testutil.AssertEqual(t, ue.Reason, tc.wantReason)
			testutil.AssertEqual(t, ue.Temporary(), tc.wantTemporary)
			testutil.AssertEqual(t, ue.QuotaExceeded(), tc.wantQuota)
			if !errors.Is(err, tc.err) {
				t.Errorf("*Error must wrap the provider error")
			}
			testutil.AssertEqual(t, p.releases, 1)
		})
	}
}

func TestUploadReleasesSpilledPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /file/{bot}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("z", 64))
	})
	f := &fetch.Fetcher{
		Gateway:    "http://localhost:8081",
		Token:      "token",
		Tier:       fetch.Tier{StandardLimit: 1 << 10, MemoryThreshold: 16},
		HTTPClient: testutil.MockHTTPClient(mux),
		TempDir:    dir,
	}
	p, err := f.Fetch(t.Context(), "videos/file_1.mp4", 64)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, p.Spilled(), true)

	u := &Uploader{
		Credentials: &fakeCredentials{},
		Provider:    &fakeProvider{err: &googleapi.Error{Code: 500}},
	}
	if _, err := u.Upload(t.Context(), p, "video.mp4", 1, nil); err == nil {
		t.Fatal("Upload must fail")
	}
	testutil.AssertEqual(t, len(testutil.DirEntries(t, dir)), 0)
}

func TestDriveCreate(t *testing.T) {
	t.Parallel()

	var gotAuth, gotUploadType string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUploadType = r.URL.Query().Get("uploadType")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "abc",
			"name":        "hello.txt",
			"webViewLink": "https://drive.google.com/file/d/abc/view?usp=drivesdk",
			"size":        "5",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	d := &Drive{Endpoint: srv.URL + "/drive/v3/"}
	f, err := d.Create(t.Context(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access"}), CreateRequest{
		Name:  "hello.txt",
		Media: strings.NewReader("hello"),
		Size:  5,
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, f, &File{
		ID:   "abc",
		Name: "hello.txt",
		Link: "https://drive.google.com/file/d/abc/view?usp=drivesdk",
		Size: 5,
	})
	testutil.AssertEqual(t, gotAuth, "Bearer access")
	testutil.AssertEqual(t, gotUploadType, "multipart")
}
