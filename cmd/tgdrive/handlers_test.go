// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/telegram"
	"go.astrophena.name/tgdrive/internal/testutil"
	"go.astrophena.name/tgdrive/internal/transfer"
	"go.astrophena.name/tgdrive/internal/upload"
	"go.astrophena.name/tgdrive/internal/web"
)

func TestTransfer(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	drive := new(fakeDrive)
	b := testBot(t, m, drive)
	link(t, b, m, 1)

	content := bytes.Repeat([]byte("tgdrive"), 1000)
	m.files["report"] = content

	b.handleMessage(t.Context(), document(1, "report", int64(len(content))))
	b.active.Wait()

	got, ok := drive.file("report.bin")
	if !ok {
		t.Fatal("file was not uploaded")
	}
	testutil.AssertEqual(t, got, content)

	text := m.lastText(t)
	for _, want := range []string{
		"Saved to Google Drive",
		"Name: report.bin",
		"Size: 6.8 KiB",
		"Link: https://drive.google.com/file/d/drive-report.bin/view",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("success message %q must contain %q", text, want)
		}
	}

	// The status message is sent once and then edited.
	var sent, edited int
	for _, c := range m.recorded() {
		switch c.Method {
		case "sendMessage":
			sent++
		case "editMessageText":
			edited++
		}
	}
	// Two replies came from linking the account.
	testutil.AssertEqual(t, sent, 3)
	if edited < 2 {
		t.Errorf("want the status message edited at least twice, got %d", edited)
	}

	testutil.AssertEqual(t, len(testutil.DirEntries(t, b.tempDir)), 0)
}

func TestTransferVideo(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	drive := new(fakeDrive)
	b := testBot(t, m, drive)
	link(t, b, m, 1)

	m.files["clip"] = []byte("not really a video")
	msg := message(1, "")
	msg.Video = &telegram.Video{FileID: "clip", FileUniqueID: "AgAD", Duration: 95, FileSize: 18}

	b.handleMessage(t.Context(), msg)
	b.active.Wait()

	if _, ok := drive.file("video_AgAD.mp4"); !ok {
		t.Fatal("video was not uploaded under its fallback name")
	}
	if text := m.lastText(t); !strings.Contains(text, "Duration: 1m35s") {
		t.Fatalf("success message must contain the duration, got %q", text)
	}
}

func TestTransferNotAuthorized(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	drive := new(fakeDrive)
	b := testBot(t, m, drive)
	m.files["report"] = []byte("data")

	b.handleMessage(t.Context(), document(1, "report", 4))
	b.active.Wait()

	testutil.AssertEqual(t, m.lastText(t), msgNotAuthorized)
	testutil.AssertEqual(t, m.called("getFile"), false)
	if _, ok := drive.file("report.bin"); ok {
		t.Fatal("file uploaded for an unauthorized user")
	}
}

func TestTransferTooLarge(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))
	link(t, b, m, 1)

	b.handleMessage(t.Context(), document(1, "movie", 30<<20))
	b.active.Wait()

	testutil.AssertEqual(t, m.lastText(t), "❌ The file is too large (30 MiB). The limit is 20 MiB.")
	testutil.AssertEqual(t, m.called("getFile"), false)
}

func TestTransferUploadFails(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want string
	}{
		"quota": {
			err:  &upload.Error{StatusCode: http.StatusForbidden, Reason: "storageQuotaExceeded"},
			want: msgQuotaExceeded,
		},
		"other": {
			err:  &upload.Error{StatusCode: http.StatusBadRequest, Reason: "badRequest"},
			want: msgUploadFailed,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m := testMux(t)
			b := testBot(t, m, &fakeDrive{err: tc.err})
			link(t, b, m, 1)
			m.files["report"] = bytes.Repeat([]byte{1}, 100)

			b.handleMessage(t.Context(), document(1, "report", 100))
			b.active.Wait()

			testutil.AssertEqual(t, m.lastText(t), tc.want)
		})
	}
}

func TestUserBusy(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))
	b.inFlight.Store(1, struct{}{})

	b.handleMessage(t.Context(), document(1, "report", 4))
	b.active.Wait()

	testutil.AssertEqual(t, m.lastText(t), msgUserBusy)
	testutil.AssertEqual(t, m.called("getFile"), false)
}

func TestAllSlotsTaken(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))
	if !b.slots.TryAcquire(b.maxTransfers) {
		t.Fatal("can't take all slots")
	}

	b.handleMessage(t.Context(), document(1, "report", 4))
	b.active.Wait()

	testutil.AssertEqual(t, m.lastText(t), msgBusy)
	// The rejected user can send files once slots free up.
	_, busy := b.inFlight.Load(1)
	testutil.AssertEqual(t, busy, false)
}

func TestPoll(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m.updates = [][]telegram.Update{
		{{UpdateID: 41, Message: message(1, "/start")}},
		{{UpdateID: 42, Message: message(1, "/info")}},
	}
	m.drained = cancel

	done := make(chan struct{})
	go func() {
		b.poll(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("poll didn't return after cancellation")
	}

	var offsets []float64
	for _, c := range m.recorded() {
		if c.Method == "getUpdates" {
			offsets = append(offsets, c.Body["offset"].(float64))
		}
	}
	testutil.AssertEqual(t, offsets, []float64{0, 42, 43})
	testutil.AssertEqual(t, len(m.texts()), 2)

	status, ok := b.pollHealth()
	testutil.AssertEqual(t, ok, true)
	if !strings.HasPrefix(status, "last poll at ") {
		t.Errorf("unexpected health status %q", status)
	}
}

func TestAdminHandler(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))
	link(t, b, m, 1)
	m.files["report"] = []byte("data")
	b.handleMessage(t.Context(), document(1, "report", 4))
	b.active.Wait()

	h := b.adminHandler()
	get := func(path string, wantStatus int) string {
		t.Helper()
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertEqual(t, w.Code, wantStatus)
		return w.Body.String()
	}

	// Not polled yet.
	health := testutil.UnmarshalJSON[web.HealthResponse](t, []byte(get("/health", http.StatusServiceUnavailable)))
	testutil.AssertEqual(t, health.Checks["telegram"].OK, false)
	testutil.AssertEqual(t, health.Checks["transfers"], web.CheckResponse{Status: "0/4 slots in use", OK: true})

	b.lastPoll.Store(&pollResult{at: time.Now()})
	health = testutil.UnmarshalJSON[web.HealthResponse](t, []byte(get("/health", http.StatusOK)))
	testutil.AssertEqual(t, health.OK, true)

	metrics := get("/metrics", http.StatusOK)
	for _, want := range []string{
		`tgdrive_transfers_total{kind="ok"} 1`,
		"tgdrive_transfer_bytes_total 4",
		"go_goroutines",
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("/metrics must contain %q", want)
		}
	}

	get("/nope", http.StatusNotFound)
}

func TestDebugLogs(t *testing.T) {
	t.Parallel()

	m := testMux(t)
	b := testBot(t, m, new(fakeDrive))
	b.logger.Info("hello from the bot")

	srv := httptest.NewServer(b.adminHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/logs", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Kept lines are written before the stream starts.
	buf := make([]byte, 4096)
	var got []byte
	for !bytes.Contains(got, []byte("hello from the bot")) {
		n, err := resp.Body.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			t.Fatal(err)
		}
	}
	if !bytes.Contains(got, []byte("hello from the bot")) {
		t.Fatalf("log stream doesn't contain the logged line: %q", got)
	}
}

func TestFileOf(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		msg    *telegram.Message
		want   incoming
		wantOK bool
	}{
		"text": {
			msg: &telegram.Message{Text: "hello"},
		},
		"document": {
			msg: &telegram.Message{Document: &telegram.Document{FileID: "d", FileUniqueID: "ud", FileName: "report.pdf", FileSize: 10}},
			want: incoming{
				kind: "document", fileID: "d", name: "report.pdf", size: 10,
			},
			wantOK: true,
		},
		"document without name": {
			msg: &telegram.Message{Document: &telegram.Document{FileID: "d", FileUniqueID: "ud"}},
			want: incoming{
				kind: "document", fileID: "d", name: "document_ud",
			},
			wantOK: true,
		},
		"document without name with MIME type": {
			msg: &telegram.Message{Document: &telegram.Document{FileID: "d", FileUniqueID: "ud", MimeType: "image/jpeg"}},
			want: incoming{
				kind: "document", fileID: "d", name: "document_ud.jpg",
			},
			wantOK: true,
		},
		"plain text document without name": {
			msg: &telegram.Message{Document: &telegram.Document{FileID: "d", FileUniqueID: "ud", MimeType: "text/plain; charset=utf-8"}},
			want: incoming{
				kind: "document", fileID: "d", name: "document_ud.txt",
			},
			wantOK: true,
		},
		"ogg audio": {
			msg: &telegram.Message{Audio: &telegram.Audio{FileID: "a", FileUniqueID: "ua", MimeType: "audio/ogg"}},
			want: incoming{
				kind: "audio", fileID: "a", name: "audio_ua.ogg",
			},
			wantOK: true,
		},
		"video of unknown type": {
			msg: &telegram.Message{Video: &telegram.Video{FileID: "v", FileUniqueID: "uv", MimeType: "video/x-unknown-thing"}},
			want: incoming{
				kind: "video", fileID: "v", name: "video_uv.mp4",
			},
			wantOK: true,
		},
		"photo picks the largest size": {
			msg: &telegram.Message{Photo: []telegram.PhotoSize{
				{FileID: "small", FileUniqueID: "us", FileSize: 1},
				{FileID: "large", FileUniqueID: "ul", FileSize: 100},
			}},
			want: incoming{
				kind: "photo", fileID: "large", name: "photo_ul.jpg", size: 100,
			},
			wantOK: true,
		},
		"video with name": {
			msg: &telegram.Message{Video: &telegram.Video{FileID: "v", FileUniqueID: "uv", FileName: "trip.mov", Duration: 3}},
			want: incoming{
				kind: "video", fileID: "v", name: "trip.mov", duration: 3 * time.Second,
			},
			wantOK: true,
		},
		"audio": {
			msg: &telegram.Message{Audio: &telegram.Audio{FileID: "a", FileUniqueID: "ua", Duration: 60}},
			want: incoming{
				kind: "audio", fileID: "a", name: "audio_ua.mp3", duration: time.Minute,
			},
			wantOK: true,
		},
		"voice": {
			msg: &telegram.Message{Voice: &telegram.Voice{FileID: "vo", FileUniqueID: "uvo", Duration: 2, MimeType: "audio/ogg"}},
			want: incoming{
				kind: "voice", fileID: "vo", name: "voice_uvo.ogg", duration: 2 * time.Second,
			},
			wantOK: true,
		},
		"animation": {
			msg: &telegram.Message{Animation: &telegram.Animation{FileID: "an", FileUniqueID: "uan"}},
			want: incoming{
				kind: "animation", fileID: "an", name: "animation_uan.mp4",
			},
			wantOK: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := fileOf(tc.msg)
			testutil.AssertEqual(t, ok, tc.wantOK)
			if diff := cmp.Diff(got, tc.want, cmp.AllowUnexported(incoming{})); diff != "" {
				t.Fatalf("(-got +want):\n%s", diff)
			}
		})
	}
}

func TestFailureMessage(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		res  transfer.Result
		want string
	}{
		"not authorized": {
			res:  transfer.Result{Kind: transfer.KindNotAuthorized},
			want: msgNotAuthorized,
		},
		"too large": {
			res: transfer.Result{
				Kind: transfer.KindFileTooLarge,
				Err:  &fetch.TooLargeError{Size: 3 << 30, Limit: 2 << 30},
			},
			want: "❌ The file is too large (3.0 GiB). The limit is 2.0 GiB.",
		},
		"fetch": {
			res:  transfer.Result{Kind: transfer.KindFetch, Err: &fetch.Error{StatusCode: http.StatusBadGateway}},
			want: msgFetchFailed,
		},
		"canceled": {
			res:  transfer.Result{Kind: transfer.KindCanceled, Err: context.Canceled},
			want: msgCanceled,
		},
		"internal": {
			res:  transfer.Result{Kind: transfer.KindInternal, Err: errors.New("boom")},
			want: msgInternal,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, failureMessage(tc.res), tc.want)
		})
	}
}
