// Package mcp provides a Model Context Protocol server for Helmsman.
//
// It exposes the rule extraction pipeline (extract, batch extract, refine,
// validate, explain, cluster) as MCP tools, and recent run history plus
// aggregate run statistics as MCP resources. Supports stdio transport for
// editor and agent integrations.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quarterdeck/helmsman/internal/history"
	"github.com/quarterdeck/helmsman/internal/pipeline"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	History  *history.Store // optional, enables history resources
	Version  string
}

// NewServer creates a configured MCP server with all Helmsman tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Helmsman",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg.Pipeline)
	registerExtractBatchTool(s, cfg.Pipeline)
	registerRefineTool(s, cfg.Pipeline)
	registerValidateTool(s, cfg.Pipeline)
	registerExplainTool(s, cfg.Pipeline)
	registerClusterTool(s, cfg.Pipeline)

	if cfg.History != nil {
		registerRecentRunsResource(s, cfg.History)
		registerRunStatsResource(s, cfg.History)
	}

	return s
}

// ServeStdio runs the server over stdio until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// toolError renders a pipeline failure as a tool result. Invalid arguments
// and pipeline failures are results, not protocol errors; only transport
// level problems surface as errors to the MCP client.
func toolError(err error) *mcp.CallToolResult {
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		payload := map[string]any{"error": perr.Reason}
		if len(perr.Issues) > 0 {
			payload["issues"] = perr.Issues
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultError(string(data))
	}
	return mcp.NewToolResultError(err.Error())
}

func registerExtractTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_extract",
		mcp.WithDescription("Extract one structured crew-policy rule from a natural-language sentence. Returns rule JSON with action, target, conditions, timeRange, priority, and logic."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The policy sentence to extract a rule from"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		r, err := p.ExtractRule(ctx, text)
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(r, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerExtractBatchTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_extract_batch",
		mcp.WithDescription("Extract every crew-policy rule from a multi-policy document in one pass. Fails as a whole if any extracted rule is invalid; never returns partial results."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The policy document to extract rules from"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		rules, err := p.ExtractRules(ctx, text)
		if err != nil {
			return toolError(err), nil
		}

		payload := map[string]any{"rules": rules, "count": len(rules)}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerRefineTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_refine",
		mcp.WithDescription("Refine an existing rule, optionally steered by free-form feedback. The refined rule must still pass structural validation."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("rule",
			mcp.Required(),
			mcp.Description("The rule JSON to refine"),
		),
		mcp.WithString("feedback",
			mcp.Description("Optional guidance describing how the rule should change; omit for a general cleanup pass"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ruleJSON, err := req.RequireString("rule")
		if err != nil || strings.TrimSpace(ruleJSON) == "" {
			return mcp.NewToolResultError("rule is required"), nil
		}
		feedback := ""
		if fb, ferr := req.RequireString("feedback"); ferr == nil {
			feedback = fb
		}

		r, err := p.RefineRule(ctx, ruleJSON, feedback)
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(r, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerValidateTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_validate",
		mcp.WithDescription("Validate rule JSON: structural schema check first, then a model-backed semantic critique. Returns {isValid, issues}."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("rule",
			mcp.Required(),
			mcp.Description("The rule JSON to validate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ruleJSON, err := req.RequireString("rule")
		if err != nil || strings.TrimSpace(ruleJSON) == "" {
			return mcp.NewToolResultError("rule is required"), nil
		}

		result, err := p.ValidateRule(ctx, ruleJSON)
		if err != nil {
			return toolError(err), nil
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerExplainTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_explain",
		mcp.WithDescription("Explain a rule in plain language for human review."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("rule",
			mcp.Required(),
			mcp.Description("The rule JSON to explain"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ruleJSON, err := req.RequireString("rule")
		if err != nil || strings.TrimSpace(ruleJSON) == "" {
			return mcp.NewToolResultError("rule is required"), nil
		}

		explanation, err := p.ExplainRule(ctx, ruleJSON)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(explanation), nil
	})
}

func registerClusterTool(s *server.MCPServer, p *pipeline.Pipeline) {
	tool := mcp.NewTool("helmsman_cluster",
		mcp.WithDescription("Group a JSON array of rules by theme. The grouping is advisory model output."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("rules",
			mcp.Required(),
			mcp.Description("JSON array of rules to cluster"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rulesJSON, err := req.RequireString("rules")
		if err != nil || strings.TrimSpace(rulesJSON) == "" {
			return mcp.NewToolResultError("rules is required"), nil
		}

		clustered, err := p.ClusterRules(ctx, rulesJSON)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(clustered), nil
	})
}

// --- Resources ---

func registerRecentRunsResource(s *server.MCPServer, st *history.Store) {
	resource := mcp.NewResource(
		"helmsman://history/recent",
		"Recent Runs",
		mcp.WithResourceDescription("The most recent pipeline runs with fallback and degraded-repair flags."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := st.List(ctx, history.ListOpts{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("querying recent runs: %w", err)
		}

		payload := map[string]any{"runs": runs, "count": len(runs)}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRunStatsResource(s *server.MCPServer, st *history.Store) {
	resource := mcp.NewResource(
		"helmsman://history/stats",
		"Run Statistics",
		mcp.WithResourceDescription("Aggregate counts of recorded runs: total, failed, fallback used, repair degraded."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying run stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
