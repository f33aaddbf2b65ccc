package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keygate/keygate/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalStringSlice extracts an optional string slice argument from the tool request.
func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	return request.GetStringSlice(key, nil)
}

// getObjectArg extracts a map[string]interface{} argument from the tool request.
// Returns nil if the key is not present or not a map.
func getObjectArg(request mcp.CallToolRequest, key string) map[string]interface{} {
	args := request.GetArguments()
	if args == nil {
		return nil
	}
	raw, ok := args[key]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	return m
}

// durationsArg reads a product ID to seconds object. JSON numbers arrive as
// float64 and must be whole and non-negative.
func durationsArg(request mcp.CallToolRequest, key string) (map[string]int64, error) {
	obj := getObjectArg(request, key)
	if len(obj) == 0 {
		return nil, fmt.Errorf("missing required parameter %q", key)
	}
	out := make(map[string]int64, len(obj))
	for id, raw := range obj {
		f, ok := raw.(float64)
		if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
			return nil, fmt.Errorf("%s[%q] must be a whole number of seconds", key, id)
		}
		out[id] = int64(f)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError reports a service failure. Categorized errors are shown as
// is; anything else is logged and summarized.
func (s *MCPServer) serviceError(action string, err error) (*mcp.CallToolResult, error) {
	for _, known := range []error{
		service.ErrValidation, service.ErrNotFound, service.ErrConflict,
		service.ErrForbidden, service.ErrUnavailable,
	} {
		if errors.Is(err, known) {
			return toolError("%s: %v", action, err)
		}
	}
	s.logger.Error("tool failed", "action", action, "error", err)
	return toolError("%s: internal error, see server logs", action)
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
