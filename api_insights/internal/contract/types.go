// Package contract defines the typed inputs of the four analytics tools, the
// JSON Schemas advertised for them and the decoder that turns raw model
// arguments into validated inputs.
package contract

import (
	"time"

	"github.com/google/uuid"
)

// Tool names, as seen by the model and by MCP clients.
const (
	ToolKOLRecommendation = "kol_recommendation"
	ToolPostAnalysis      = "post_analysis"
	ToolPerformance       = "performance_metrics"
	ToolSemanticSearch    = "natural_language_query"
)

// Names lists every tool in advertisement order.
func Names() []string {
	return []string{ToolKOLRecommendation, ToolPostAnalysis, ToolPerformance, ToolSemanticSearch}
}

const (
	DefaultLimit     = 10
	MinLimit         = 1
	MaxLimit         = 100
	DefaultThreshold = 0.7
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformThreads   Platform = "threads"
	PlatformReels     Platform = "reels"
)

type Scope string

const (
	ScopeKOL     Scope = "kol"
	ScopePost    Scope = "post"
	ScopeOverall Scope = "overall"
)

// Input is implemented by the four operation variants.
type Input interface {
	Tool() string
}

// FollowerRange bounds are inclusive; nil means unbounded.
type FollowerRange struct {
	Min *int64
	Max *int64
}

// DateRange bounds are inclusive; nil means unbounded.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// RecommendKOLs selects tenant KOLs by follower count and niche.
type RecommendKOLs struct {
	FollowerRange FollowerRange
	Niches        []string
	Limit         int
}

func (RecommendKOLs) Tool() string { return ToolKOLRecommendation }

// AnalyzePosts lists recent posts. An empty KOLID or Platform means no filter.
type AnalyzePosts struct {
	KOLID     string
	DateRange DateRange
	Platform  Platform
	Limit     int
}

func (AnalyzePosts) Tool() string { return ToolPostAnalysis }

// AggregateMetrics sums engagement over a filtered post set.
type AggregateMetrics struct {
	Scope     Scope
	KOLIDs    []string
	DateRange DateRange
	Platform  Platform
}

func (AggregateMetrics) Tool() string { return ToolPerformance }

// SemanticSearch ranks posts by embedding similarity to QueryText.
type SemanticSearch struct {
	QueryText string
	Limit     int
	Threshold float64
}

func (SemanticSearch) Tool() string { return ToolSemanticSearch }

// IsUUID reports whether s is a canonical 36 character 8-4-4-4-12 UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ClampLimit forces n into [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	switch {
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
