package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestProbeSendsRangeAndReadsPartialContent(t *testing.T) {
	var gotRange, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Range", "bytes 0-1023/999999")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(bytes.Repeat([]byte("a"), 1024))
	}))
	defer srv.Close()

	s := newTestSelector(Options{SampleBytes: 1024})
	res := s.probe(context.Background(), srv.URL)

	if gotRange != "bytes=0-1023" {
		t.Errorf("expected Range bytes=0-1023, got %q", gotRange)
	}
	if gotUA != "mirrorpick/1.0" {
		t.Errorf("expected default user agent, got %q", gotUA)
	}
	if !res.Succeeded {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.StatusCode != http.StatusPartialContent {
		t.Errorf("expected 206, got %d", res.StatusCode)
	}
	if res.BytesRead != 1024 {
		t.Errorf("expected 1024 bytes read, got %d", res.BytesRead)
	}
	if res.BytesPerSecond <= 0 {
		t.Errorf("expected positive rate, got %d", res.BytesPerSecond)
	}
}

func TestProbeFullContentIsBoundedBySample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Range ignored: serve the whole artifact.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bytes.Repeat([]byte("b"), 1<<20))
	}))
	defer srv.Close()

	s := newTestSelector(Options{SampleBytes: 4096})
	res := s.probe(context.Background(), srv.URL)

	if !res.Succeeded {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.BytesRead != 4096 {
		t.Errorf("expected read bounded to 4096 bytes, got %d", res.BytesRead)
	}
}

func TestProbeShortBodyStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	s := newTestSelector(Options{})
	res := s.probe(context.Background(), srv.URL)

	if !res.Succeeded || res.BytesRead != 4 {
		t.Fatalf("expected success with 4 bytes, got %+v", res)
	}
	// elapsed is clamped to at least 1ms, so 4 bytes can never exceed 4000 B/s.
	if res.BytesPerSecond > 4000 {
		t.Errorf("rate %d exceeds the 1ms clamp bound", res.BytesPerSecond)
	}
}

func TestProbeRejectsUnexpectedStatus(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError, http.StatusRequestedRangeNotSatisfiable} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			s := newTestSelector(Options{})
			res := s.probe(context.Background(), srv.URL)

			if res.Succeeded || res.BytesPerSecond != 0 {
				t.Fatalf("expected failure with zero rate, got %+v", res)
			}
			if res.StatusCode != code {
				t.Errorf("expected status %d, got %d", code, res.StatusCode)
			}
			if res.Error != fmt.Sprintf("HTTP %d", code) {
				t.Errorf("unexpected error %q", res.Error)
			}
		})
	}
}

func TestProbeFollowsRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "" {
			t.Errorf("expected Range header to survive the redirect")
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("redirected payload"))
	}))
	defer target.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/asset.jar", http.StatusFound)
	}))
	defer proxy.Close()

	s := newTestSelector(Options{})
	res := s.probe(context.Background(), proxy.URL+"/github.com/o/r/asset.jar")

	if !res.Succeeded {
		t.Fatalf("expected redirect to be followed, got error %q", res.Error)
	}
	if res.BytesRead != int64(len("redirected payload")) {
		t.Errorf("unexpected byte count %d", res.BytesRead)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	s := newTestSelector(Options{})
	res := s.probe(context.Background(), addr)

	if res.Succeeded || res.BytesPerSecond != 0 {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Error == "" {
		t.Error("expected an error description")
	}
}

func TestProbeInvalidURL(t *testing.T) {
	s := newTestSelector(Options{})
	res := s.probe(context.Background(), "://not a url")

	if res.Succeeded || res.Error == "" {
		t.Fatalf("expected failure with error, got %+v", res)
	}
}

func TestProbeStalledBodyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	s := newTestSelector(Options{ReadTimeout: 50 * time.Millisecond})

	start := time.Now()
	res := s.probe(context.Background(), srv.URL)
	elapsed := time.Since(start)

	if res.Succeeded || res.BytesPerSecond != 0 {
		t.Fatalf("expected stalled probe to fail, got %+v", res)
	}
	if !strings.Contains(res.Error, "read timed out") {
		t.Errorf("expected read timeout error, got %q", res.Error)
	}
	if elapsed > 2*time.Second {
		t.Errorf("stalled probe took %v", elapsed)
	}
}

func TestProbeStalledHeadersTimeOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	s := newTestSelector(Options{ReadTimeout: 50 * time.Millisecond})
	res := s.probe(context.Background(), srv.URL)

	if res.Succeeded {
		t.Fatalf("expected header stall to fail, got %+v", res)
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("expected timeout error, got %q", res.Error)
	}
}

func TestProbeHonoursCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSelector(Options{})
	res := s.probe(ctx, srv.URL)
	if res.Succeeded {
		t.Fatalf("expected cancelled probe to fail, got %+v", res)
	}
}

// countingBody records how often it is closed.
type countingBody struct {
	r      io.Reader
	err    error
	closes *atomic.Int32
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF && b.err != nil {
		return n, b.err
	}
	return n, err
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	return nil
}

type stubTransport struct {
	status  int
	readErr error
	dialErr error
	bodies  atomic.Int32
	closes  atomic.Int32
}

func (rt *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.dialErr != nil {
		return nil, rt.dialErr
	}
	rt.bodies.Add(1)
	return &http.Response{
		StatusCode: rt.status,
		Header:     make(http.Header),
		Body:       &countingBody{r: strings.NewReader("payload"), err: rt.readErr, closes: &rt.closes},
		Request:    req,
	}, nil
}

func TestProbeReleasesBodyExactlyOnce(t *testing.T) {
	tests := []struct {
		name       string
		rt         *stubTransport
		wantBodies int32
		succeeded  bool
	}{
		{"ok", &stubTransport{status: http.StatusOK}, 1, true},
		{"partial", &stubTransport{status: http.StatusPartialContent}, 1, true},
		{"not found", &stubTransport{status: http.StatusNotFound}, 1, false},
		{"server error", &stubTransport{status: http.StatusBadGateway}, 1, false},
		{"stream error", &stubTransport{status: http.StatusOK, readErr: errors.New("connection reset")}, 1, false},
		{"dial error", &stubTransport{dialErr: errors.New("connection refused")}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSelector(Options{HTTPClient: &http.Client{Transport: tt.rt}})
			res := s.probe(context.Background(), "https://mirror.example/o/r/asset.jar")

			if res.Succeeded != tt.succeeded {
				t.Errorf("expected succeeded=%v, got %+v", tt.succeeded, res)
			}
			if got := tt.rt.bodies.Load(); got != tt.wantBodies {
				t.Fatalf("expected %d bodies, got %d", tt.wantBodies, got)
			}
			if got := tt.rt.closes.Load(); got != tt.wantBodies {
				t.Errorf("expected %d closes, got %d", tt.wantBodies, got)
			}
		})
	}
}
