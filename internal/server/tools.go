package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"prefork.dev/internal/logs"
	"prefork.dev/internal/process"
)

// Tool names
const (
	ToolStats        = "stats"
	ToolWorkers      = "workers"
	ToolSignalWorker = "signal_worker"
	ToolReload       = "reload"
	ToolLogs         = "logs"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolStats,
		Description: "Pool-wide statistics read from shared memory",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}, s.handleStats)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolWorkers,
		Description: "Per-slot worker state: pid, liveness, heartbeat, jobs, respawns",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}, s.handleWorkers)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolSignalWorker,
		Description: "Send a signal to the worker in a slot",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"slot": map[string]interface{}{
					"type":        "number",
					"description": "Worker slot index",
				},
				"signal": map[string]interface{}{
					"type":        "string",
					"description": "Signal name or number (default: TERM)",
				},
			},
			Required: []string{"slot"},
		},
	}, s.handleSignalWorker)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolReload,
		Description: "Bump the generation and replace every worker",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}},
	}, s.handleReload)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolLogs,
		Description: "Read a worker's log",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"slot": map[string]interface{}{
					"type":        "number",
					"description": "Worker slot index",
				},
				"lines": map[string]interface{}{
					"type":        "number",
					"description": "Number of lines to tail (default: 100)",
				},
				"filter": map[string]interface{}{
					"type":        "string",
					"description": "Regex pattern to filter logs",
				},
			},
			Required: []string{"slot"},
		},
	}, s.handleLogs)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func slotArg(args map[string]any) (int, error) {
	v, ok := args["slot"].(float64)
	if !ok {
		return 0, fmt.Errorf("slot is required and must be a number")
	}
	if v != float64(int(v)) || v < 0 {
		return 0, fmt.Errorf("slot must be a non-negative integer, got %v", v)
	}
	return int(v), nil
}

func (s *Server) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.ctl.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap.Slots = nil
	return jsonResult(snap)
}

func (s *Server) handleWorkers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.ctl.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"workers": snap.Slots, "count": len(snap.Slots)})
}

func (s *Server) handleSignalWorker(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	slot, err := slotArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	name := "TERM"
	if v, ok := args["signal"].(string); ok && v != "" {
		name = v
	}
	sig, err := process.ParseSignal(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.ctl.SignalWorker(slot, sig); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Info("signalled worker", zap.Int("slot", slot), zap.Stringer("signal", sig))
	return jsonResult(map[string]any{"slot": slot, "signal": sig.String(), "sent": true})
}

func (s *Server) handleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gen, err := s.ctl.Reload()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"generation": gen})
}

func (s *Server) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	slot, err := slotArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := logs.ReadOptions{Lines: 100}
	if lines, ok := args["lines"].(float64); ok {
		opts.Lines = int(lines)
	}
	if filter, ok := args["filter"].(string); ok {
		opts.Filter = filter
	}

	lines, err := logs.ReadLog(logs.WorkerLog(slot), opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read logs: %v", err)), nil
	}
	return jsonResult(map[string]any{"lines": lines, "count": len(lines)})
}
