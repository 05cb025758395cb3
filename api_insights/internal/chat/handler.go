// Package chat exposes the question answering endpoint.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"kolinsights/api_insights/internal/agent"
	"kolinsights/api_insights/internal/contract"
	"kolinsights/api_insights/internal/metering"
	"kolinsights/pkg/ctxkeys"
	"kolinsights/pkg/logging"
	"kolinsights/pkg/middleware"
)

const maxQueryRunes = 4000

type QueryRequest struct {
	Query  string `json:"query" binding:"required"`
	UserID string `json:"userId" binding:"required"`
}

type QueryResponse struct {
	Explanation string                     `json:"explanation"`
	Insights    []string                   `json:"insights"`
	Data        map[string]json.RawMessage `json:"data"`
}

// Answerer is satisfied by *agent.Orchestrator.
type Answerer interface {
	Run(ctx context.Context, tenantID, question string) (agent.Result, error)
}

// UsagePublisher is satisfied by *metering.Publisher.
type UsagePublisher interface {
	Publish(ctx context.Context, ev metering.UsageEvent) error
}

type HandlerConfig struct {
	Answerer Answerer
	Usage    UsagePublisher
	Model    string
	Timeout  time.Duration
	Logger   logging.Logger
}

type Handler struct {
	answerer Answerer
	usage    UsagePublisher
	model    string
	timeout  time.Duration
	logger   logging.Logger
	// done is signalled after a usage event is handed off; tests wait on it.
	done func()
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Handler{
		answerer: cfg.Answerer,
		usage:    cfg.Usage,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// RegisterRoutes mounts the query endpoint on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/v1/insights/query", h.HandleQuery)
}

func (h *Handler) HandleQuery(c *gin.Context) {
	if h == nil || h.answerer == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler unavailable"})
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query too long"})
		return
	}
	if !contract.IsUUID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be a UUID"})
		return
	}
	tenantID := strings.ToLower(req.UserID)
	c.Set("tenant_id", tenantID)

	ctx := ctxkeys.WithTenantID(c.Request.Context(), tenantID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	log := middleware.GetContextLogger(c, h.logger)
	start := time.Now()
	result, err := h.answerer.Run(ctx, tenantID, query)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).Error("Insights query failed")
		}
		h.publishUsage(ctx, middleware.GetRequestID(c), tenantID, agent.Result{State: "error"}, time.Since(start))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	h.publishUsage(ctx, middleware.GetRequestID(c), tenantID, result, time.Since(start))

	c.JSON(http.StatusOK, BuildResponse(result))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrInvalidTenant), errors.Is(err, agent.ErrEmptyQuestion):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	case errors.Is(err, agent.ErrModel):
		return http.StatusBadGateway, "language model unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// publishUsage hands the event off without delaying the response.
func (h *Handler) publishUsage(ctx context.Context, requestID, tenantID string, res agent.Result, elapsed time.Duration) {
	if h.usage == nil {
		return
	}
	ev := metering.UsageEvent{
		RequestID:  requestID,
		TenantID:   tenantID,
		Model:      h.model,
		Rounds:     res.Rounds,
		State:      string(res.State),
		Tools:      make([]string, 0, len(res.ToolCalls)),
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	for _, call := range res.ToolCalls {
		ev.Tools = append(ev.Tools, call.Name)
		if call.Error != "" {
			ev.ToolErrors++
		}
	}
	pubCtx := context.WithoutCancel(ctx)
	go func() {
		if h.done != nil {
			defer h.done()
		}
		ctx, cancel := context.WithTimeout(pubCtx, 5*time.Second)
		defer cancel()
		if err := h.usage.Publish(ctx, ev); err != nil {
			h.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to publish usage event")
		}
	}()
}
