package contract

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

var descriptions = map[string]string{
	ToolKOLRecommendation: "Find and recommend KOLs (Key Opinion Leaders) by follower count range and niche. " +
		"Use when the user asks about influencers, KOLs or creators, or wants to find people by niche or audience size. " +
		`Examples: "find KOLs in the fashion niche", "recommend creators with 10k-100k followers".`,
	ToolPostAnalysis: "List social media posts filtered by KOL ID, platform and date range, newest first. " +
		"Use when the user asks what was posted, or about specific posts or a time window. " +
		`Only include kol_id when you have a valid UUID from an earlier result. Dates are ISO 8601, e.g. "2024-12-22T00:00:00Z".`,
	ToolPerformance: "Aggregate engagement (posts, likes, comments and averages) per KOL (scope=kol) or over all matching posts (scope=post or overall). " +
		`Use for performance, engagement and comparison questions. Examples: "which KOL got the most likes this month", "overall engagement on reels".`,
	ToolSemanticSearch: "Semantic search over post captions and transcripts. " +
		"Use when the user asks about topics, themes or content by meaning. " +
		`Examples: "posts about sustainable fashion", "content mentioning the summer collection".`,
}

func toolParams(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func limitProperty() map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     MinLimit,
		"maximum":     MaxLimit,
		"description": fmt.Sprintf("Maximum number of results (default %d, at most %d).", DefaultLimit, MaxLimit),
	}
}

func platformProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"enum":        []any{string(PlatformInstagram), string(PlatformThreads), string(PlatformReels)},
		"description": "Restrict to one platform.",
	}
}

func dateRangeProperty() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Inclusive creation time window. Either bound may be omitted.",
		"properties": map[string]any{
			"start": map[string]any{"type": "string", "format": "date-time"},
			"end":   map[string]any{"type": "string", "format": "date-time"},
		},
	}
}

func buildSchemas() map[string]map[string]any {
	return map[string]map[string]any{
		ToolKOLRecommendation: toolParams(map[string]any{
			"criteria": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"follower_range": map[string]any{
						"type":        "object",
						"description": "Inclusive follower count bounds. Either bound may be omitted.",
						"properties": map[string]any{
							"min": map[string]any{"type": "integer", "minimum": 0},
							"max": map[string]any{"type": "integer", "minimum": 0},
						},
					},
					"niches": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Match KOLs whose niche is any of these values.",
					},
				},
			},
			"limit": limitProperty(),
		}, nil),
		ToolPostAnalysis: toolParams(map[string]any{
			"filters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kol_id": map[string]any{
						"type":        "string",
						"format":      "uuid",
						"description": "KOL UUID. Omit when unknown.",
					},
					"date_range": dateRangeProperty(),
					"platform":   platformProperty(),
				},
			},
			"limit": limitProperty(),
		}, nil),
		ToolPerformance: toolParams(map[string]any{
			"scope": map[string]any{
				"type":        "string",
				"enum":        []any{string(ScopeKOL), string(ScopePost), string(ScopeOverall)},
				"description": "kol groups metrics per KOL; post and overall return a single aggregate.",
			},
			"filters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kol_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string", "format": "uuid"},
						"description": "Restrict to these KOL UUIDs.",
					},
					"date_range": dateRangeProperty(),
					"platform":   platformProperty(),
				},
			},
		}, []string{"scope"}),
		ToolSemanticSearch: toolParams(map[string]any{
			"query_text": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Natural language description of the content to find.",
			},
			"limit": limitProperty(),
			"similarity_threshold": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": fmt.Sprintf("Minimum cosine similarity in [0,1] (default %.1f).", DefaultThreshold),
			},
		}, []string{"query_text"}),
	}
}

var (
	schemas  = buildSchemas()
	compiled = mustCompile(schemas)
)

func mustCompile(in map[string]map[string]any) map[string]*gojsonschema.Schema {
	out := make(map[string]*gojsonschema.Schema, len(in))
	for name, schema := range in {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			panic(fmt.Sprintf("compile %s schema: %v", name, err))
		}
		out[name] = s
	}
	return out
}

// Schema returns a fresh copy of the parameters schema for tool, or nil when
// the tool is unknown. Callers may mutate the copy.
func Schema(tool string) map[string]any {
	if _, ok := schemas[tool]; !ok {
		return nil
	}
	return buildSchemas()[tool]
}

// Description returns the model-facing description of tool.
func Description(tool string) string {
	return descriptions[tool]
}
