package process

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPReachableSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !HTTPReachable(srv.URL, time.Second) {
		t.Errorf("HTTPReachable(%s) = false, want true (server is up)", srv.URL)
	}
}

func TestHTTPReachableNotFound(t *testing.T) {
	// A 404 response still means the port is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if !HTTPReachable(srv.URL, time.Second) {
		t.Errorf("HTTPReachable(%s) = false for 404, want true (server is listening)", srv.URL)
	}
}

func TestHTTPReachableBareHostPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	hostPort := strings.TrimPrefix(srv.URL, "http://")
	if !HTTPReachable(hostPort, time.Second) {
		t.Errorf("HTTPReachable(%s) = false, want true", hostPort)
	}
}

func TestHTTPReachableNoServer(t *testing.T) {
	if HTTPReachable("http://127.0.0.1:19743", 500*time.Millisecond) {
		t.Error("HTTPReachable = true for unbound port, want false")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		":8080":                 "http://localhost:8080",
		"127.0.0.1:9000":        "http://127.0.0.1:9000",
		"http://example.com":    "http://example.com",
		"https://example.com/x": "https://example.com/x",
	}
	for in, want := range tests {
		if got := normalizeURL(in); got != want {
			t.Errorf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
