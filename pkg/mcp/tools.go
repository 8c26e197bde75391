package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/stagegate/pkg/analyzer"
	"github.com/pario-ai/stagegate/pkg/models"
)

// Tool argument structs.

type bandArgs struct {
	Band string `json:"band"`
}

type feedbackArgs struct {
	Band     string `json:"band"`
	Approved *bool  `json:"approved"`
	Note     string `json:"note"`
}

type cleanupArgs struct {
	Mode string `json:"mode"`
}

type decisionsArgs struct {
	Band  string `json:"band"`
	Limit int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"stagegate_route":         handleRoute,
	"stagegate_feedback":      handleFeedback,
	"stagegate_approval_rate": handleApprovalRate,
	"stagegate_cache_stats":   handleCacheStats,
	"stagegate_cache_cleanup": handleCacheCleanup,
	"stagegate_decisions":     handleDecisions,
	"stagegate_budget":        handleBudget,
}

var bandProperty = map[string]any{
	"type":        "string",
	"enum":        []string{"simple", "moderate", "complex", "very_complex"},
	"description": "Complexity band",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "stagegate_route",
		Description: "Decide whether a task should skip, suggest or auto-approve the stage 2 analysis path. The decision is logged.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "Task description (optional)",
				},
				"complexity_score": map[string]any{
					"type":        "integer",
					"description": "Complexity score from the analyzer, typically 0-100",
				},
				"estimated_tokens": map[string]any{
					"type":        "integer",
					"description": "Estimated token cost of the analysis",
				},
				"recommended_pattern": map[string]any{
					"type":        "string",
					"description": "Recommended agent pattern (optional)",
				},
				"token_budget": map[string]any{
					"type":        "integer",
					"description": "Token budget (optional, defaults to the configured budget policies)",
				},
			},
		},
	},
	{
		Name:        "stagegate_feedback",
		Description: "Record a human approval or rejection for a band. Feedback drives the auto-approval gate.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"band", "approved"},
			"properties": map[string]any{
				"band": bandProperty,
				"approved": map[string]any{
					"type":        "boolean",
					"description": "true to approve, false to reject",
				},
				"note": map[string]any{
					"type":        "string",
					"description": "Free-form note (optional)",
				},
			},
		},
	},
	{
		Name:        "stagegate_approval_rate",
		Description: "Show the learned approval rate per band, optionally for a single band.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"band": bandProperty,
			},
		},
	},
	{
		Name:        "stagegate_cache_stats",
		Description: "Show response cache statistics (entries, accesses, hits, misses).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "stagegate_cache_cleanup",
		Description: "Remove expired cache entries, or all entries with mode=all.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"expired", "all"},
					"description": "Cleanup mode (default expired)",
				},
			},
		},
	},
	{
		Name:        "stagegate_decisions",
		Description: "List recent routing decisions and feedback, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"band": bandProperty,
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of events (default 20)",
				},
			},
		},
	},
	{
		Name:        "stagegate_budget",
		Description: "Show token budget usage against every configured policy.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func parseBand(raw string) (models.Band, error) {
	b, ok := models.ParseBand(raw)
	if !ok {
		return "", fmt.Errorf("unknown band %q", raw)
	}
	return b, nil
}

func handleRoute(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}
	task, err := analyzer.Parse(rawArgs)
	if err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	var budget *int64
	if b := gjson.GetBytes(rawArgs, "token_budget"); b.Exists() {
		v := b.Int()
		budget = &v
	}
	d := s.engine.Decide(ctx, task, budget)
	return textResult(formatDecision(d))
}

func handleFeedback(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args feedbackArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	band, err := parseBand(args.Band)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.Approved == nil {
		return errorResult("approved is required")
	}
	if err := s.engine.Policy().RecordFeedback(ctx, band, *args.Approved, args.Note); err != nil {
		return errorResult("Error recording feedback: " + err.Error())
	}
	rate, err := s.engine.Policy().ApprovalRate(ctx, band)
	if err != nil {
		return errorResult("Feedback recorded, but the approval rate is unavailable: " + err.Error())
	}
	return textResult(fmt.Sprintf("Feedback recorded. Approval rate for %s is now %.2f.", band, rate))
}

func handleApprovalRate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args bandArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	bands := []models.Band{models.BandModerate, models.BandComplex}
	if args.Band != "" {
		b, err := parseBand(args.Band)
		if err != nil {
			return errorResult(err.Error())
		}
		bands = []models.Band{b}
	}

	rates := make(map[models.Band]float64, len(bands))
	for _, b := range bands {
		r, err := s.engine.Policy().ApprovalRate(ctx, b)
		if err != nil {
			return errorResult("Error computing approval rate: " + err.Error())
		}
		rates[b] = r
	}
	return textResult(formatApprovalRates(bands, rates))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	c := s.engine.Cache()
	if c == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleCacheCleanup(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.engine.Cache() == nil {
		return textResult("Cache is not configured.")
	}
	var args cleanupArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	mode := models.CleanupExpired
	if args.Mode != "" {
		mode = models.CleanupMode(args.Mode)
	}
	res, err := s.engine.Cleanup(ctx, mode)
	if err != nil {
		return errorResult("Error cleaning cache: " + err.Error())
	}
	return textResult(formatCleanup(mode, res))
}

func handleDecisions(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args decisionsArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	opts := models.EventQueryOpts{Feature: models.FeatureStage2, Limit: args.Limit}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if args.Band != "" {
		b, err := parseBand(args.Band)
		if err != nil {
			return errorResult(err.Error())
		}
		opts.Band = b
	}
	events, err := s.log.Query(ctx, opts)
	if err != nil {
		return errorResult("Error querying decisions: " + err.Error())
	}
	return textResult(formatEvents(events))
}

func handleBudget(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	enf := s.engine.Budget()
	if enf == nil {
		return textResult("Budget enforcement is not configured.")
	}
	statuses, err := enf.Status(ctx)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}
