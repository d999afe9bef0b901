package mcp

import (
	"context"

	"github.com/aibozo/code-sub000/internal/turn"
)

// CallerAdapter presents a *Manager as a turn.MCPCaller, translating this
// package's ToolCallResult/ToolResultContent into turn's mirrored shapes.
type CallerAdapter struct {
	*Manager
}

// NewCallerAdapter wraps m as a turn.MCPCaller.
func NewCallerAdapter(m *Manager) CallerAdapter {
	return CallerAdapter{Manager: m}
}

func (a CallerAdapter) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*turn.MCPToolResult, error) {
	result, err := a.Manager.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		return nil, err
	}
	out := &turn.MCPToolResult{IsError: result.IsError}
	for _, c := range result.Content {
		out.Content = append(out.Content, turn.MCPContent{Type: c.Type, Text: c.Text})
	}
	return out, nil
}
