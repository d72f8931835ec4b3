package process

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HTTPReachable reports whether something answers HTTP at addr within timeout.
// Any response, even 404 or 405, means the listener is up. A bare ":port"
// is taken to mean localhost.
func HTTPReachable(addr string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalizeURL(addr), nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func normalizeURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "http://localhost" + addr
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return addr
	default:
		return "http://" + addr
	}
}
