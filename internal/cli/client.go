package cli

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"prefork.dev/internal/server"
)

// newMCPClient creates, starts, and initializes an MCP HTTP client against addr.
// The returned cleanup function should be deferred by the caller.
func newMCPClient(ctx context.Context, addr string) (*mcpclient.Client, func(), error) {
	c, err := mcpclient.NewStreamableHttpClient(server.Endpoint(addr))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	if _, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "prefork-cli",
				Version: "0.0.1",
			},
		},
	}); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	return c, func() { c.Close() }, nil
}

// callTool calls the named tool and decodes its JSON text result into out.
// A tool-level failure is returned as an error carrying the tool's message.
func callTool(ctx context.Context, c *mcpclient.Client, toolName string, params map[string]any, out any) error {
	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: params,
		},
	})
	if err != nil {
		return fmt.Errorf("error calling %s: %w", toolName, err)
	}

	var text string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return fmt.Errorf("%s: %s", toolName, text)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", toolName, err)
	}
	return nil
}
