package executor

import "time"

// KOLSummary is the denormalized KOL attached to posts and metrics.
type KOLSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Niche    string `json:"niche"`
}

type KOLProfile struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	SocialMediaType string `json:"socialMediaType"`
	Niche           string `json:"niche"`
	Followers       int64  `json:"followers"`
	PostCount       int64  `json:"postCount"`
}

type KOLRecommendation struct {
	Type  string       `json:"type"`
	Count int          `json:"count"`
	KOLs  []KOLProfile `json:"kols"`
}

type Post struct {
	ID        string      `json:"id"`
	Platform  string      `json:"platform"`
	Caption   string      `json:"caption"`
	Hashtags  []string    `json:"hashtags"`
	Likes     int64       `json:"likes"`
	Comments  int64       `json:"comments"`
	CreatedAt time.Time   `json:"createdAt"`
	KOL       *KOLSummary `json:"kol"`
}

type PostAnalysis struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Posts []Post `json:"posts"`
}

// Engagement holds totals and per-post averages. Averages are 0 when
// TotalPosts is 0.
type Engagement struct {
	TotalPosts    int64   `json:"totalPosts"`
	TotalLikes    int64   `json:"totalLikes"`
	TotalComments int64   `json:"totalComments"`
	AvgLikes      float64 `json:"avgLikes"`
	AvgComments   float64 `json:"avgComments"`
}

func newEngagement(posts, likes, comments int64) Engagement {
	e := Engagement{TotalPosts: posts, TotalLikes: likes, TotalComments: comments}
	if posts > 0 {
		e.AvgLikes = float64(likes) / float64(posts)
		e.AvgComments = float64(comments) / float64(posts)
	}
	return e
}

type KOLMetrics struct {
	KOL KOLSummary `json:"kol"`
	Engagement
}

// KOLPerformance is the scope=kol aggregate.
type KOLPerformance struct {
	Type    string       `json:"type"`
	Scope   string       `json:"scope"`
	Metrics []KOLMetrics `json:"metrics"`
}

// OverallPerformance is the scope=post and scope=overall aggregate.
type OverallPerformance struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
	Engagement
}

type SearchHit struct {
	ID         string      `json:"id"`
	Platform   string      `json:"platform"`
	Caption    string      `json:"caption"`
	Transcript *string     `json:"transcript"`
	Hashtags   []string    `json:"hashtags"`
	Likes      int64       `json:"likes"`
	Comments   int64       `json:"comments"`
	CreatedAt  time.Time   `json:"createdAt"`
	Similarity float64     `json:"similarity"`
	KOL        *KOLSummary `json:"kol"`
}

type SemanticSearchResult struct {
	Type  string      `json:"type"`
	Query string      `json:"query"`
	Count int         `json:"count"`
	Posts []SearchHit `json:"posts"`
}
