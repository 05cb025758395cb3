package chat

import (
	"encoding/json"
	"fmt"

	"kolinsights/api_insights/internal/agent"
	"kolinsights/api_insights/internal/contract"
)

type payloadSummary struct {
	Type       string            `json:"type"`
	Count      int               `json:"count"`
	Scope      string            `json:"scope"`
	Metrics    []json.RawMessage `json:"metrics"`
	TotalPosts int64             `json:"totalPosts"`
}

// BuildResponse shapes an agent result for the HTTP boundary. Data keeps the
// last successful payload per tool.
func BuildResponse(res agent.Result) QueryResponse {
	resp := QueryResponse{
		Explanation: res.Answer,
		Insights:    []string{},
		Data:        map[string]json.RawMessage{},
	}
	for _, out := range res.Outputs {
		resp.Data[out.Name] = out.Payload
		if line := insightLine(out.Name, out.Payload); line != "" {
			resp.Insights = append(resp.Insights, line)
		}
	}
	return resp
}

func insightLine(tool string, payload json.RawMessage) string {
	var s payloadSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return ""
	}
	switch tool {
	case contract.ToolKOLRecommendation:
		return fmt.Sprintf("%s returned %d KOLs", tool, s.Count)
	case contract.ToolPostAnalysis:
		return fmt.Sprintf("%s returned %d posts", tool, s.Count)
	case contract.ToolSemanticSearch:
		return fmt.Sprintf("%s matched %d posts", tool, s.Count)
	case contract.ToolPerformance:
		if s.Scope == string(contract.ScopeKOL) {
			return fmt.Sprintf("%s covered %d KOLs", tool, len(s.Metrics))
		}
		return fmt.Sprintf("%s (%s scope) covered %d posts", tool, s.Scope, s.TotalPosts)
	default:
		return ""
	}
}
