// Package executor runs the four tenant-scoped analytics operations against
// the kols/posts store. Every statement carries the tenant predicate; there is
// no code path that reads a post or KOL without it.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"kolinsights/api_insights/internal/contract"
	"kolinsights/pkg/logging"
)

var (
	ErrInvalidTenant     = errors.New("tenant id must be a UUID")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNoEmbedder        = errors.New("semantic search is not configured")
)

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	DB       *sql.DB
	Embedder Embedder
	// Dimensions is the posts.embedding vector size; 0 skips the check.
	Dimensions int
	Logger     logging.Logger
}

type Executor struct {
	db         *sql.DB
	embedder   Embedder
	dimensions int
	logger     logging.Logger
}

func New(cfg Config) *Executor {
	return &Executor{
		db:         cfg.DB,
		embedder:   cfg.Embedder,
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

// Execute dispatches a decoded input to its operation.
// The returned payload is nil whenever err is non-nil.
func (e *Executor) Execute(ctx context.Context, tenantID string, in contract.Input) (any, error) {
	switch v := in.(type) {
	case contract.RecommendKOLs:
		res, err := e.RecommendKOLs(ctx, tenantID, v)
		if err != nil {
			return nil, err
		}
		return res, nil
	case contract.AnalyzePosts:
		res, err := e.AnalyzePosts(ctx, tenantID, v)
		if err != nil {
			return nil, err
		}
		return res, nil
	case contract.AggregateMetrics:
		return e.AggregateMetrics(ctx, tenantID, v)
	case contract.SemanticSearch:
		res, err := e.SemanticSearch(ctx, tenantID, v)
		if err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unsupported input %T", in)
	}
}

func checkTenant(tenantID string) error {
	if !contract.IsUUID(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

// observe records duration and outcome for one operation.
func observe(operation string, start time.Time, err error) {
	queryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	queriesTotal.WithLabelValues(operation, status).Inc()
}

// conditions accumulates AND-ed predicates with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

// add appends a predicate; each "?" in clause becomes the next $n.
func (c *conditions) add(clause string, args ...any) {
	for _, arg := range args {
		c.args = append(c.args, arg)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(c.args)), 1)
	}
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) next(arg any) string {
	c.args = append(c.args, arg)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *conditions) join(sep string) string {
	return strings.Join(c.clauses, sep)
}

func (c *conditions) addPostFilters(platform contract.Platform, dr contract.DateRange) {
	if platform != "" {
		c.add("p.platform = ?", string(platform))
	}
	if dr.Start != nil {
		c.add("p.created_at >= ?", *dr.Start)
	}
	if dr.End != nil {
		c.add("p.created_at <= ?", *dr.End)
	}
}

// RecommendKOLs lists tenant KOLs by follower count, largest first.
func (e *Executor) RecommendKOLs(ctx context.Context, tenantID string, in contract.RecommendKOLs) (result *KOLRecommendation, err error) {
	defer func(start time.Time) { observe(contract.ToolKOLRecommendation, start, err) }(time.Now())
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}

	var where conditions
	where.add("k.user_id = ?", tenantID)
	if in.FollowerRange.Min != nil {
		where.add("k.followers >= ?", *in.FollowerRange.Min)
	}
	if in.FollowerRange.Max != nil {
		where.add("k.followers <= ?", *in.FollowerRange.Max)
	}
	if len(in.Niches) > 0 {
		where.add("k.niche = ANY(?)", pq.Array(in.Niches))
	}
	limit := where.next(contract.ClampLimit(in.Limit))

	query := fmt.Sprintf(`
		SELECT k.id, k.name, k.username, k.social_media_type, k.niche, k.followers,
			(SELECT COUNT(*) FROM posts p WHERE p.kol_id = k.id) AS post_count
		FROM kols k
		WHERE %s
		ORDER BY k.followers DESC, k.id ASC
		LIMIT %s
	`, where.join(" AND "), limit)

	rows, err := e.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("query kols: %w", err)
	}
	defer rows.Close()

	result = &KOLRecommendation{Type: contract.ToolKOLRecommendation, KOLs: []KOLProfile{}}
	for rows.Next() {
		var k KOLProfile
		if err := rows.Scan(&k.ID, &k.Name, &k.Username, &k.SocialMediaType, &k.Niche, &k.Followers, &k.PostCount); err != nil {
			return nil, fmt.Errorf("scan kol: %w", err)
		}
		result.KOLs = append(result.KOLs, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kols: %w", err)
	}
	result.Count = len(result.KOLs)
	return result, nil
}

// AnalyzePosts lists tenant posts, newest first, each with its KOL.
func (e *Executor) AnalyzePosts(ctx context.Context, tenantID string, in contract.AnalyzePosts) (result *PostAnalysis, err error) {
	defer func(start time.Time) { observe(contract.ToolPostAnalysis, start, err) }(time.Now())
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}

	var where conditions
	where.add("k.user_id = ?", tenantID)
	if in.KOLID != "" {
		where.add("p.kol_id = ?", in.KOLID)
	}
	where.addPostFilters(in.Platform, in.DateRange)
	limit := where.next(contract.ClampLimit(in.Limit))

	query := fmt.Sprintf(`
		SELECT p.id, p.platform, p.caption, p.hashtags, p.likes, p.comments, p.created_at,
			k.id, k.name, k.username, k.niche
		FROM posts p
		JOIN kols k ON k.id = p.kol_id
		WHERE %s
		ORDER BY p.created_at DESC, p.id ASC
		LIMIT %s
	`, where.join(" AND "), limit)

	rows, err := e.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	result = &PostAnalysis{Type: contract.ToolPostAnalysis, Posts: []Post{}}
	for rows.Next() {
		var (
			p   Post
			kol KOLSummary
		)
		if err := rows.Scan(
			&p.ID, &p.Platform, &p.Caption, pq.Array(&p.Hashtags), &p.Likes, &p.Comments, &p.CreatedAt,
			&kol.ID, &kol.Name, &kol.Username, &kol.Niche,
		); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if p.Hashtags == nil {
			p.Hashtags = []string{}
		}
		p.KOL = &kol
		result.Posts = append(result.Posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	result.Count = len(result.Posts)
	return result, nil
}

// AggregateMetrics returns *KOLPerformance for scope kol and
// *OverallPerformance otherwise.
func (e *Executor) AggregateMetrics(ctx context.Context, tenantID string, in contract.AggregateMetrics) (result any, err error) {
	defer func(start time.Time) { observe(contract.ToolPerformance, start, err) }(time.Now())
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if in.Scope == contract.ScopeKOL {
		byKOL, err := e.metricsByKOL(ctx, tenantID, in)
		if err != nil {
			return nil, err
		}
		return byKOL, nil
	}
	overall, err := e.metricsOverall(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}
	return overall, nil
}

// metricsByKOL groups from the tenant's KOLs so that KOLs named in KOLIDs
// appear even with no matching posts. Post filters live in the join
// condition for the same reason.
func (e *Executor) metricsByKOL(ctx context.Context, tenantID string, in contract.AggregateMetrics) (*KOLPerformance, error) {
	var join conditions
	join.add("p.kol_id = k.id")
	join.addPostFilters(in.Platform, in.DateRange)

	where := conditions{args: join.args}
	where.add("k.user_id = ?", tenantID)
	having := ""
	if len(in.KOLIDs) > 0 {
		where.add("k.id = ANY(?)", pq.Array(in.KOLIDs))
	} else {
		having = "HAVING COUNT(p.id) > 0"
	}

	query := fmt.Sprintf(`
		SELECT k.id, k.name, k.username, k.niche,
			COUNT(p.id) AS total_posts,
			COALESCE(SUM(p.likes), 0) AS total_likes,
			COALESCE(SUM(p.comments), 0) AS total_comments
		FROM kols k
		LEFT JOIN posts p ON %s
		WHERE %s
		GROUP BY k.id, k.name, k.username, k.niche
		%s
		ORDER BY total_likes DESC, k.id ASC
	`, join.join(" AND "), where.join(" AND "), having)

	rows, err := e.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("query kol metrics: %w", err)
	}
	defer rows.Close()

	result := &KOLPerformance{Type: contract.ToolPerformance, Scope: string(contract.ScopeKOL), Metrics: []KOLMetrics{}}
	for rows.Next() {
		var (
			m                      KOLMetrics
			posts, likes, comments int64
		)
		if err := rows.Scan(&m.KOL.ID, &m.KOL.Name, &m.KOL.Username, &m.KOL.Niche, &posts, &likes, &comments); err != nil {
			return nil, fmt.Errorf("scan kol metrics: %w", err)
		}
		m.Engagement = newEngagement(posts, likes, comments)
		result.Metrics = append(result.Metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kol metrics: %w", err)
	}
	return result, nil
}

func (e *Executor) metricsOverall(ctx context.Context, tenantID string, in contract.AggregateMetrics) (*OverallPerformance, error) {
	var where conditions
	where.add("k.user_id = ?", tenantID)
	if len(in.KOLIDs) > 0 {
		where.add("p.kol_id = ANY(?)", pq.Array(in.KOLIDs))
	}
	where.addPostFilters(in.Platform, in.DateRange)

	query := fmt.Sprintf(`
		SELECT COUNT(p.id), COALESCE(SUM(p.likes), 0), COALESCE(SUM(p.comments), 0)
		FROM posts p
		JOIN kols k ON k.id = p.kol_id
		WHERE %s
	`, where.join(" AND "))

	var posts, likes, comments int64
	if err := e.db.QueryRowContext(ctx, query, where.args...).Scan(&posts, &likes, &comments); err != nil {
		return nil, fmt.Errorf("query overall metrics: %w", err)
	}
	return &OverallPerformance{
		Type:       contract.ToolPerformance,
		Scope:      string(in.Scope),
		Engagement: newEngagement(posts, likes, comments),
	}, nil
}

// SemanticSearch ranks tenant posts by cosine similarity to the embedded
// query. Ties on distance break on post id so repeated calls agree.
func (e *Executor) SemanticSearch(ctx context.Context, tenantID string, in contract.SemanticSearch) (result *SemanticSearchResult, err error) {
	defer func(start time.Time) { observe(contract.ToolSemanticSearch, start, err) }(time.Now())
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if e.embedder == nil {
		return nil, ErrNoEmbedder
	}

	vec, err := e.embedder.EmbedQuery(ctx, in.QueryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 || (e.dimensions > 0 && len(vec) != e.dimensions) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dimensions)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT p.id, p.kol_id, p.platform, p.caption, p.transcript, p.hashtags,
			p.likes, p.comments, p.created_at,
			p.embedding <=> $2 AS distance
		FROM posts p
		JOIN kols k ON k.id = p.kol_id
		WHERE k.user_id = $1
			AND p.embedding IS NOT NULL
			AND 1 - (p.embedding <=> $2) >= $3
		ORDER BY distance ASC, p.id ASC
		LIMIT $4
	`, tenantID, pgvector.NewVector(vec), in.Threshold, contract.ClampLimit(in.Limit))
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()

	result = &SemanticSearchResult{Type: contract.ToolSemanticSearch, Query: in.QueryText, Posts: []SearchHit{}}
	var kolIDs, owners []string
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			hit        SearchHit
			kolID      string
			transcript sql.NullString
			distance   float64
		)
		if err := rows.Scan(
			&hit.ID, &kolID, &hit.Platform, &hit.Caption, &transcript, pq.Array(&hit.Hashtags),
			&hit.Likes, &hit.Comments, &hit.CreatedAt, &distance,
		); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		if transcript.Valid {
			hit.Transcript = &transcript.String
		}
		if hit.Hashtags == nil {
			hit.Hashtags = []string{}
		}
		hit.Similarity = clampSimilarity(1 - distance)
		result.Posts = append(result.Posts, hit)
		owners = append(owners, kolID)
		if !seen[kolID] {
			seen[kolID] = true
			kolIDs = append(kolIDs, kolID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}

	kols, err := e.kolsByID(ctx, tenantID, kolIDs)
	if err != nil {
		return nil, err
	}
	for i := range result.Posts {
		if kol, ok := kols[owners[i]]; ok {
			result.Posts[i].KOL = &kol
		}
	}
	result.Count = len(result.Posts)
	return result, nil
}

// kolsByID hydrates KOL summaries in a single tenant-scoped round trip.
func (e *Executor) kolsByID(ctx context.Context, tenantID string, ids []string) (map[string]KOLSummary, error) {
	out := make(map[string]KOLSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, name, username, niche
		FROM kols
		WHERE user_id = $1 AND id = ANY($2)
	`, tenantID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load kols: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k KOLSummary
		if err := rows.Scan(&k.ID, &k.Name, &k.Username, &k.Niche); err != nil {
			return nil, fmt.Errorf("scan kol: %w", err)
		}
		out[k.ID] = k
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kols: %w", err)
	}
	return out, nil
}

func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
