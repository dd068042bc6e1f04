package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"imagetotext/pkg/apperr"
)

const testToken = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// fakeBotAPI serves getFile and file downloads the way the Bot API does.
type fakeBotAPI struct {
	getFileBody   string
	getFileStatus int
	fileStatus    int
	fileBytes     []byte

	mu        sync.Mutex
	requested []string
}

func (f *fakeBotAPI) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requested = append(f.requested, r.URL.Path)
	f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/bot"+testToken+"/getFile"):
		w.Header().Set("Content-Type", "application/json")
		status := f.getFileStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, f.getFileBody)
	case strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/"):
		status := f.fileStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write(f.fileBytes)
	default:
		http.NotFound(w, r)
	}
}

func newTestResolver(t *testing.T, api *fakeBotAPI) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	r, err := NewResolver(srv.Client(), Config{
		Token:   testToken,
		APIURL:  srv.URL,
		Timeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, srv
}

func TestResolveDownloadsAndEncodes(t *testing.T) {
	api := &fakeBotAPI{
		getFileBody: `{"ok":true,"result":{"file_id":"FILE123","file_unique_id":"u1","file_size":8,"file_path":"photos/file_1.jpg"}}`,
		fileBytes:   pngHeader,
	}
	r, _ := newTestResolver(t, api)

	got, err := r.Resolve(context.Background(), "FILE123")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := base64.StdEncoding.EncodeToString(pngHeader); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	paths := api.paths()
	last := paths[len(paths)-1]
	if last != "/file/bot"+testToken+"/photos/file_1.jpg" {
		t.Errorf("unexpected download path %q", last)
	}
}

func TestResolveHandleNotFound(t *testing.T) {
	cases := map[string]*fakeBotAPI{
		"missing file_path": {
			getFileBody: `{"ok":true,"result":{"file_id":"FILE123","file_unique_id":"u1"}}`,
		},
		"api refusal": {
			getFileStatus: http.StatusBadRequest,
			getFileBody:   `{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`,
		},
		"not well-formed": {
			getFileBody: `not json at all`,
		},
	}

	for name, api := range cases {
		t.Run(name, func(t *testing.T) {
			r, _ := newTestResolver(t, api)
			_, err := r.Resolve(context.Background(), "FILE123")
			if !errors.Is(err, apperr.ErrHandleNotFound) {
				t.Errorf("expected ErrHandleNotFound, got %v", err)
			}
			for _, p := range api.paths() {
				if strings.HasPrefix(p, "/file/") {
					t.Errorf("download must not be attempted, saw %q", p)
				}
			}
		})
	}
}

func TestResolveRejectsEmptyHandle(t *testing.T) {
	api := &fakeBotAPI{}
	r, _ := newTestResolver(t, api)

	_, err := r.Resolve(context.Background(), "")
	if !errors.Is(err, apperr.ErrHandleNotFound) {
		t.Errorf("expected ErrHandleNotFound, got %v", err)
	}
	if paths := api.paths(); len(paths) != 0 {
		t.Errorf("expected no requests, got %v", paths)
	}
}

func TestResolveDownloadFailureIsTransport(t *testing.T) {
	api := &fakeBotAPI{
		getFileBody: `{"ok":true,"result":{"file_id":"FILE123","file_unique_id":"u1","file_path":"photos/file_1.jpg"}}`,
		fileStatus:  http.StatusBadGateway,
	}
	r, _ := newTestResolver(t, api)

	_, err := r.Resolve(context.Background(), "FILE123")
	if !errors.Is(err, apperr.ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
	if errors.Is(err, apperr.ErrHandleNotFound) {
		t.Errorf("download failure must not be reported as handle not found")
	}
}

func TestResolveGetFileServerErrorIsTransport(t *testing.T) {
	api := &fakeBotAPI{
		getFileStatus: http.StatusBadGateway,
		getFileBody:   `<html><body>502 Bad Gateway</body></html>`,
	}
	r, _ := newTestResolver(t, api)

	_, err := r.Resolve(context.Background(), "FILE123")
	if !errors.Is(err, apperr.ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
	if errors.Is(err, apperr.ErrHandleNotFound) {
		t.Errorf("server error must not be reported as handle not found")
	}
	for _, p := range api.paths() {
		if strings.HasPrefix(p, "/file/") {
			t.Errorf("download must not be attempted, saw %q", p)
		}
	}
}

func TestIsNetworkError(t *testing.T) {
	if !isNetworkError(context.DeadlineExceeded) {
		t.Errorf("deadline should count as a network error")
	}
	if !isNetworkError(fmt.Errorf("telego: getFile: %w", errBotAPIUnavailable)) {
		t.Errorf("5xx should count as a network error")
	}
	if isNetworkError(errors.New("decode response: invalid character")) {
		t.Errorf("decode failure should not count as a network error")
	}
}
