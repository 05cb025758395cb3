package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists every argument violation for one tool call.
type ValidationError struct {
	Tool       string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Violations, "; "))
}

// UnknownToolError is returned for names outside Names().
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

type wireDateRange struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

type wireRecommend struct {
	Criteria struct {
		FollowerRange *struct {
			Min *int64 `json:"min"`
			Max *int64 `json:"max"`
		} `json:"follower_range"`
		Niches []string `json:"niches"`
	} `json:"criteria"`
	Limit *int `json:"limit"`
}

type wirePosts struct {
	Filters struct {
		KOLID     *string        `json:"kol_id"`
		DateRange *wireDateRange `json:"date_range"`
		Platform  *string        `json:"platform"`
	} `json:"filters"`
	Limit *int `json:"limit"`
}

type wireMetrics struct {
	Scope   string `json:"scope"`
	Filters struct {
		KOLIDs    []string       `json:"kol_ids"`
		DateRange *wireDateRange `json:"date_range"`
		Platform  *string        `json:"platform"`
	} `json:"filters"`
}

type wireSearch struct {
	QueryText string   `json:"query_text"`
	Limit     *int     `json:"limit"`
	Threshold *float64 `json:"similarity_threshold"`
}

// Decode validates raw model arguments for tool and builds its typed input.
// Out of range limits are clamped into [MinLimit, MaxLimit] before schema
// validation; every other violation is reported in a *ValidationError.
func Decode(tool string, raw json.RawMessage) (Input, error) {
	schema, ok := compiled[tool]
	if !ok {
		return nil, &UnknownToolError{Tool: tool}
	}

	doc, err := normalize(raw)
	if err != nil {
		return nil, &ValidationError{Tool: tool, Violations: []string{"arguments must be a JSON object: " + err.Error()}}
	}
	if tool == ToolKOLRecommendation {
		// older prompts name the criteria object kol_criteria
		if alias, ok := doc["kol_criteria"]; ok {
			if _, set := doc["criteria"]; !set {
				doc["criteria"] = alias
			}
			delete(doc, "kol_criteria")
		}
	}
	clampLimit(doc)

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode %s arguments: %w", tool, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(normalized))
	if err != nil {
		return nil, fmt.Errorf("validate %s arguments: %w", tool, err)
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			violations[i] = desc.String()
		}
		return nil, &ValidationError{Tool: tool, Violations: violations}
	}

	switch tool {
	case ToolKOLRecommendation:
		return decodeRecommend(normalized)
	case ToolPostAnalysis:
		return decodePosts(normalized)
	case ToolPerformance:
		return decodeMetrics(normalized)
	default:
		return decodeSearch(normalized)
	}
}

// normalize parses raw into an object and drops null members, which models
// emit for omitted optional fields.
func normalize(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	dropNulls(doc)
	return doc, nil
}

func dropNulls(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			dropNulls(val)
		}
	}
}

func clampLimit(doc map[string]any) {
	n, ok := doc["limit"].(json.Number)
	if !ok {
		return
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) {
		return
	}
	switch {
	case f < MinLimit:
		doc["limit"] = MinLimit
	case f > MaxLimit:
		doc["limit"] = MaxLimit
	case f == math.Trunc(f):
		// 5.0 decodes into an int field only once rewritten as 5
		doc["limit"] = int(f)
	}
}

func limitOrDefault(p *int) int {
	if p == nil {
		return DefaultLimit
	}
	return ClampLimit(*p)
}

func decodeRecommend(raw []byte) (Input, error) {
	var w wireRecommend
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ValidationError{Tool: ToolKOLRecommendation, Violations: []string{err.Error()}}
	}
	in := RecommendKOLs{Limit: limitOrDefault(w.Limit)}
	if fr := w.Criteria.FollowerRange; fr != nil {
		in.FollowerRange = FollowerRange{Min: fr.Min, Max: fr.Max}
	}
	for _, niche := range w.Criteria.Niches {
		if niche = strings.TrimSpace(niche); niche != "" {
			in.Niches = append(in.Niches, niche)
		}
	}
	return in, nil
}

func decodePosts(raw []byte) (Input, error) {
	var w wirePosts
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ValidationError{Tool: ToolPostAnalysis, Violations: []string{err.Error()}}
	}
	dr, err := parseDateRange(ToolPostAnalysis, w.Filters.DateRange)
	if err != nil {
		return nil, err
	}
	in := AnalyzePosts{DateRange: dr, Limit: limitOrDefault(w.Limit)}
	if w.Filters.KOLID != nil {
		in.KOLID = strings.ToLower(*w.Filters.KOLID)
	}
	if w.Filters.Platform != nil {
		in.Platform = Platform(*w.Filters.Platform)
	}
	return in, nil
}

func decodeMetrics(raw []byte) (Input, error) {
	var w wireMetrics
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ValidationError{Tool: ToolPerformance, Violations: []string{err.Error()}}
	}
	dr, err := parseDateRange(ToolPerformance, w.Filters.DateRange)
	if err != nil {
		return nil, err
	}
	in := AggregateMetrics{Scope: Scope(w.Scope), DateRange: dr}
	for _, id := range w.Filters.KOLIDs {
		in.KOLIDs = append(in.KOLIDs, strings.ToLower(id))
	}
	if w.Filters.Platform != nil {
		in.Platform = Platform(*w.Filters.Platform)
	}
	return in, nil
}

func decodeSearch(raw []byte) (Input, error) {
	var w wireSearch
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ValidationError{Tool: ToolSemanticSearch, Violations: []string{err.Error()}}
	}
	query := strings.TrimSpace(w.QueryText)
	if query == "" {
		return nil, &ValidationError{Tool: ToolSemanticSearch, Violations: []string{"query_text: must not be blank"}}
	}
	in := SemanticSearch{QueryText: query, Limit: limitOrDefault(w.Limit), Threshold: DefaultThreshold}
	if w.Threshold != nil {
		in.Threshold = *w.Threshold
	}
	return in, nil
}

const dateOnly = "2006-01-02"

func parseDateRange(tool string, w *wireDateRange) (DateRange, error) {
	var dr DateRange
	if w == nil {
		return dr, nil
	}
	var violations []string
	if w.Start != nil {
		t, err := parseBound(*w.Start, false)
		if err != nil {
			violations = append(violations, "filters.date_range.start: "+err.Error())
		} else {
			dr.Start = &t
		}
	}
	if w.End != nil {
		t, err := parseBound(*w.End, true)
		if err != nil {
			violations = append(violations, "filters.date_range.end: "+err.Error())
		} else {
			dr.End = &t
		}
	}
	if len(violations) > 0 {
		return DateRange{}, &ValidationError{Tool: tool, Violations: violations}
	}
	return dr, nil
}

// parseBound accepts RFC 3339 timestamps and bare dates. A bare end date
// covers the whole day so the range stays inclusive.
func parseBound(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or date", s)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
