package safety

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "a/b/c.jar")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.jar"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.jar"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.jar"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestReadAllWithLimit(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("abc"), 2)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	data, err := ReadAllWithLimit(io.NopCloser(strings.NewReader("abc")), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("unexpected data: %q", string(data))
	}
}

func TestFileNameFromURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"release asset", "https://github.com/o/r/releases/download/v1/tool.jar", "tool.jar", false},
		{"query stripped", "https://example.com/files/a.bin?token=x#frag", "a.bin", false},
		{"trailing slash", "https://example.com/files/dir/", "dir", false},
		{"no path", "https://example.com", "", true},
		{"root path", "https://example.com/", "", true},
		{"bad scheme", "ftp://example.com/a.bin", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileNameFromURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateHTTPURL(t *testing.T) {
	if _, err := ValidateHTTPURL("https://github.com/o/r"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, raw := range []string{"github.com/o/r", "file:///etc/passwd", "https://user:pw@github.com/x", "https://"} {
		if _, err := ValidateHTTPURL(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestNewProbeClientTimeouts(t *testing.T) {
	c := NewProbeClient(0, 0)
	if c.Timeout != 0 {
		t.Errorf("probe client must not set an overall timeout, got %v", c.Timeout)
	}

	c = NewProbeClient(2*time.Second, 3*time.Second)
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if tr.ResponseHeaderTimeout != 3*time.Second || tr.TLSHandshakeTimeout != 2*time.Second {
		t.Errorf("unexpected timeouts: header=%v tls=%v", tr.ResponseHeaderTimeout, tr.TLSHandshakeTimeout)
	}
	if !tr.DisableKeepAlives || !tr.DisableCompression {
		t.Error("expected keep-alives and compression to be disabled")
	}
}

func TestNewTransferClientHasNoOverallTimeout(t *testing.T) {
	c := NewTransferClient()
	if c.Timeout != 0 {
		t.Errorf("transfer client must not cap the body read, got %v", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost:8080", true},
		{"api.localhost", true},
		{"127.0.0.1:80", true},
		{"[::1]:443", true},
		{"example.com", false},
		{"10.0.0.1:8080", false},
	}

	for _, tt := range tests {
		if got := IsLoopbackHost(&url.URL{Host: tt.host}); got != tt.want {
			t.Errorf("IsLoopbackHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
