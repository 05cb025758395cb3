// Package sanitize narrows raw model tool arguments before validation. Models
// routinely invent KOL identifiers ("kol-1", a handle, an empty string); those
// are removed so the call proceeds unfiltered instead of failing.
package sanitize

import (
	"encoding/json"
	"strconv"
	"strings"

	"kolinsights/api_insights/internal/contract"
)

// Arguments returns the sanitized arguments for tool and the JSON paths that
// were dropped. It never rejects: input that is not a JSON object is returned
// untouched for the contract layer to refuse.
func Arguments(tool string, raw json.RawMessage) (json.RawMessage, []string) {
	switch tool {
	case contract.ToolPostAnalysis, contract.ToolPerformance:
	default:
		return raw, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return raw, nil
	}
	var filters map[string]json.RawMessage
	if err := json.Unmarshal(doc["filters"], &filters); err != nil || filters == nil {
		return raw, nil
	}

	var (
		dropped []string
		changed bool
	)
	switch tool {
	case contract.ToolPostAnalysis:
		dropped, changed = sanitizeKOLID(filters)
	case contract.ToolPerformance:
		dropped, changed = sanitizeKOLIDs(filters)
	}
	if !changed {
		return raw, nil
	}

	encodedFilters, err := json.Marshal(filters)
	if err != nil {
		return raw, nil
	}
	doc["filters"] = encodedFilters
	out, err := json.Marshal(doc)
	if err != nil {
		return raw, nil
	}
	return out, dropped
}

func sanitizeKOLID(filters map[string]json.RawMessage) ([]string, bool) {
	value, ok := filters["kol_id"]
	if !ok {
		return nil, false
	}
	var id string
	if err := json.Unmarshal(value, &id); err == nil {
		if trimmed := strings.TrimSpace(id); contract.IsUUID(trimmed) {
			if trimmed == id {
				return nil, false
			}
			filters["kol_id"], _ = json.Marshal(trimmed)
			return nil, true
		}
	}
	delete(filters, "kol_id")
	return []string{"filters.kol_id"}, true
}

func sanitizeKOLIDs(filters map[string]json.RawMessage) ([]string, bool) {
	value, ok := filters["kol_ids"]
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		// a bare string or object is as wrong as an invalid id
		delete(filters, "kol_ids")
		return []string{"filters.kol_ids"}, true
	}

	kept := make([]string, 0, len(items))
	var dropped []string
	trimmed := false
	for i, item := range items {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			if clean := strings.TrimSpace(id); contract.IsUUID(clean) {
				trimmed = trimmed || clean != id
				kept = append(kept, clean)
				continue
			}
		}
		dropped = append(dropped, "filters.kol_ids["+strconv.Itoa(i)+"]")
	}

	if len(kept) == 0 {
		delete(filters, "kol_ids")
		return append(dropped, "filters.kol_ids"), true
	}
	if len(dropped) == 0 && !trimmed {
		return nil, false
	}
	filters["kol_ids"], _ = json.Marshal(kept)
	return dropped, true
}
