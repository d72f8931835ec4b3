package server

import "strings"

// Endpoint normalizes an MCP server base address to include the /mcp path,
// since mcp-go's StreamableHTTPServer registers all handlers at /mcp by default.
// A bare ":port" is taken to mean localhost.
func Endpoint(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		addr = "http://localhost" + addr
	case !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://"):
		addr = "http://" + addr
	}
	addr = strings.TrimRight(addr, "/")
	if !strings.HasSuffix(addr, "/mcp") {
		return addr + "/mcp"
	}
	return addr
}
