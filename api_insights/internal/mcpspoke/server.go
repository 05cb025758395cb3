// Package mcpspoke serves the analytics tools over the Model Context Protocol
// so external agents can call them directly.
package mcpspoke

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"kolinsights/api_insights/internal/contract"
	"kolinsights/api_insights/internal/tools"
	"kolinsights/pkg/logging"
	"kolinsights/pkg/version"
)

const tenantField = "tenant_id"

// Registry is satisfied by *tools.Registry.
type Registry interface {
	Units() []tools.Unit
	Invoke(ctx context.Context, tenantID, name string, args json.RawMessage) tools.Result
}

// NewServer creates an MCP server exposing every registry tool. Each tool
// takes an extra required tenant_id argument that scopes the call.
func NewServer(reg Registry, logger logging.Logger) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "kol-insights",
		Version: version.Version,
	}, nil)

	for _, unit := range reg.Units() {
		srv.AddTool(&mcp.Tool{
			Name:        unit.Name,
			Description: unit.Description,
			InputSchema: withTenant(unit.Parameters),
		}, handler(reg, unit.Name, logger))
	}
	return srv
}

func handler(reg Registry, name string, logger logging.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		tenantID, args, err := splitTenant(raw)
		if err != nil {
			spokeCallsTotal.WithLabelValues(name, "invalid").Inc()
			return spokeError(err.Error()), nil
		}

		res := reg.Invoke(ctx, tenantID, name, args)
		spokeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if res.IsErr() {
			spokeCallsTotal.WithLabelValues(name, "error").Inc()
			if logger != nil {
				logger.WithFields(logging.Fields{
					"tool":      name,
					"tenant_id": tenantID,
					"error":     res.Message(),
				}).Debug("MCP tool call failed")
			}
			return spokeError(res.Content()), nil
		}
		spokeCallsTotal.WithLabelValues(name, "ok").Inc()
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Content()}},
		}, nil
	}
}

// splitTenant removes tenant_id from the arguments and validates it.
func splitTenant(raw json.RawMessage) (string, json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", nil, fmt.Errorf("arguments must be a JSON object")
		}
	}
	var tenantID string
	if v, ok := fields[tenantField]; ok {
		_ = json.Unmarshal(v, &tenantID)
	}
	if !contract.IsUUID(tenantID) {
		return "", nil, fmt.Errorf("%s must be a UUID", tenantField)
	}
	delete(fields, tenantField)
	args, err := json.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("re-encode arguments: %w", err)
	}
	return tenantID, args, nil
}

// withTenant returns a copy of schema with the tenant_id property added and
// required. The registry's schema is left untouched.
func withTenant(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	out["type"] = "object"

	props := map[string]any{}
	if existing, ok := schema["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props[tenantField] = map[string]any{
		"type":        "string",
		"format":      "uuid",
		"description": "Tenant whose data the call is scoped to",
	}
	out["properties"] = props

	required := []string{tenantField}
	if existing, ok := schema["required"].([]string); ok {
		required = append(required, existing...)
	}
	out["required"] = required
	return out
}

func spokeError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}
