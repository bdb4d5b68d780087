// Package mcp provides a Model Context Protocol server for the
// conversation memory engine.
//
// It exposes the engine's write path (observe), read path (inject) and
// the manual fact intents as MCP tools over stdio, so a chat host can
// drive memory through tool calls instead of linking the engine in.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/honey991127/char-knowledge/internal/engine"
	"github.com/honey991127/char-knowledge/internal/memory"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Engine  *engine.Engine
	Version string // version string for MCP server info
}

// engMu serializes all MCP tool calls. The mcp-go library dispatches
// handlers concurrently via goroutines, and the engine expects its
// caller to serialize events per process.
var engMu sync.Mutex

// NewServer creates a configured MCP server with all memory tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"CharKnowledge",
		ver,
		server.WithToolCapabilities(false),
	)

	registerObserveTool(s, cfg.Engine)
	registerInjectTool(s, cfg.Engine)
	registerListTool(s, cfg.Engine)
	registerAddTool(s, cfg.Engine)
	registerSetStatusTool(s, cfg.Engine)
	registerDeleteTool(s, cfg.Engine)
	registerExportTool(s, cfg.Engine)
	registerImportTool(s, cfg.Engine)
	registerStatsTool(s, cfg.Engine)

	return s
}

// convContext builds the conversation context shared by every tool.
// conversation and persona are required; group marks a multi-party
// conversation.
func convContext(req mcp.CallToolRequest) (engine.ConversationContext, error) {
	conv, err := req.RequireString("conversation")
	if err != nil || strings.TrimSpace(conv) == "" {
		return engine.ConversationContext{}, errors.New("conversation is required")
	}
	persona, err := req.RequireString("persona")
	if err != nil || strings.TrimSpace(persona) == "" {
		return engine.ConversationContext{}, errors.New("persona is required")
	}
	return engine.ConversationContext{
		ConversationID: strings.TrimSpace(conv),
		PersonaID:      strings.TrimSpace(persona),
		IsMultiParty:   req.GetBool("group", false),
	}, nil
}

// withConvArgs declares the context arguments every tool shares.
func withConvArgs(opts ...mcp.ToolOption) []mcp.ToolOption {
	base := []mcp.ToolOption{
		mcp.WithString("conversation",
			mcp.Required(),
			mcp.Description("Conversation identifier the memory store is scoped to"),
		),
		mcp.WithString("persona",
			mcp.Required(),
			mcp.Description("Active user persona identifier; writes require the owner persona"),
		),
		mcp.WithBoolean("group",
			mcp.Description("Whether this is a multi-party conversation (default: false)"),
		),
	}
	return append(base, opts...)
}

// --- Tools ---

func registerObserveTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_observe",
		append([]mcp.ToolOption{
			mcp.WithDescription("Feed a user utterance through rule-based fact extraction and merge the results into the conversation's memory. A non-owner persona or a group conversation is a silent no-op."),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs(
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("The user utterance to extract facts from"),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		res, err := eng.Observe(ctx, cc, text)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("observe error: %v", err)), nil
		}

		out := map[string]interface{}{
			"applied":    res.Applied,
			"extracted":  res.Extracted,
			"added":      res.Added,
			"reinforced": res.Reinforced,
		}
		if res.FlushErr != nil {
			out["flushError"] = res.FlushErr.Error()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerInjectTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_inject",
		append([]mcp.ToolOption{
			mcp.WithDescription("Build the advisory injection block for the conversation: the known facts selected against the latest user utterance, rendered with access headers. Empty text means injection is suppressed."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs(
			mcp.WithString("text",
				mcp.Description("Latest user utterance, used for relevance ranking. Empty = chronological tail."),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text := req.GetString("text", "")

		inj, err := eng.BuildInjection(ctx, cc, text)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("inject error: %v", err)), nil
		}

		out := map[string]interface{}{
			"text":  inj.Text,
			"depth": inj.Depth,
			"facts": len(inj.Facts),
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerListTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_list",
		append([]mcp.ToolOption{
			mcp.WithDescription("List every fact in the conversation's memory store, active and inactive, in store order."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs()...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		facts, err := eng.ListFacts(ctx, cc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(facts, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerAddTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_add",
		append([]mcp.ToolOption{
			mcp.WithDescription("Manually add a fact to the conversation's memory. Only the owner persona may write; a duplicate type+value reinforces the existing fact instead of adding."),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs(
			mcp.WithString("type",
				mcp.Required(),
				mcp.Description("Fact type, e.g. preference_like, habit, boundary, other"),
			),
			mcp.WithString("value",
				mcp.Required(),
				mcp.Description("The fact text"),
			),
			mcp.WithNumber("confidence",
				mcp.Description("Confidence in [0,1] (default: 0.5)"),
			),
			mcp.WithString("tags",
				mcp.Description("Comma-separated tags"),
			),
			mcp.WithString("source",
				mcp.Description("Source label (default: manual)"),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		typeStr, err := req.RequireString("type")
		if err != nil {
			return mcp.NewToolResultError("type is required"), nil
		}
		ft := memory.FactType(typeStr)
		if !memory.KnownType(ft) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown fact type %q", typeStr)), nil
		}
		value, err := req.RequireString("value")
		if err != nil || strings.TrimSpace(value) == "" {
			return mcp.NewToolResultError("value is required"), nil
		}

		confidence := req.GetFloat("confidence", memory.DefaultConfidence)
		var tags []string
		if raw := req.GetString("tags", ""); raw != "" {
			for _, tag := range strings.Split(raw, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}
		source := req.GetString("source", "manual")

		fact, applied, err := eng.AddFact(ctx, cc, ft, value, confidence, tags, source)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("add error: %v", err)), nil
		}
		if !applied {
			return mcp.NewToolResultError("persona does not own this conversation's memory"), nil
		}

		data, _ := json.MarshalIndent(fact, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSetStatusTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_set_status",
		append([]mcp.ToolOption{
			mcp.WithDescription("Activate or deactivate a fact. Inactive facts keep their slot (and their duplicate key) but never appear in injections."),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs(
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Fact identifier, as returned by memory_list"),
			),
			mcp.WithString("status",
				mcp.Required(),
				mcp.Description("New status"),
				mcp.Enum("active", "inactive"),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}
		statusStr, err := req.RequireString("status")
		if err != nil {
			return mcp.NewToolResultError("status is required"), nil
		}
		status := memory.Status(statusStr)
		if status != memory.StatusActive && status != memory.StatusInactive {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status %q", statusStr)), nil
		}

		fact, applied, err := eng.UpdateFact(ctx, cc, id, memory.FactPatch{Status: &status})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("update error: %v", err)), nil
		}
		if !applied {
			return mcp.NewToolResultError("fact not found or persona does not own this conversation's memory"), nil
		}

		data, _ := json.MarshalIndent(fact, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerDeleteTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_delete",
		append([]mcp.ToolOption{
			mcp.WithDescription("Delete a fact by id, or clear the whole store with all=true. The owner lock survives a clear."),
			mcp.WithDestructiveHintAnnotation(true),
		}, withConvArgs(
			mcp.WithString("id",
				mcp.Description("Fact identifier to delete"),
			),
			mcp.WithBoolean("all",
				mcp.Description("Delete every fact in the conversation (default: false)"),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if req.GetBool("all", false) {
			applied, err := eng.ClearFacts(ctx, cc)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("clear error: %v", err)), nil
			}
			if !applied {
				return mcp.NewToolResultError("persona does not own this conversation's memory"), nil
			}
			return mcp.NewToolResultText(`{"cleared": true}`), nil
		}

		id := req.GetString("id", "")
		if id == "" {
			return mcp.NewToolResultError("id is required unless all=true"), nil
		}
		applied, err := eng.DeleteFact(ctx, cc, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete error: %v", err)), nil
		}
		if !applied {
			return mcp.NewToolResultError("fact not found or persona does not own this conversation's memory"), nil
		}
		return mcp.NewToolResultText(`{"deleted": true}`), nil
	})
}

func registerExportTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_export",
		append([]mcp.ToolOption{
			mcp.WithDescription("Export the conversation's memory store as a JSON document suitable for backup or hand-editing."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs()...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var buf bytes.Buffer
		if err := eng.Export(ctx, cc, &buf); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("export error: %v", err)), nil
		}
		return mcp.NewToolResultText(buf.String()), nil
	})
}

func registerImportTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_import",
		append([]mcp.ToolOption{
			mcp.WithDescription("Import a previously exported JSON document, replacing the conversation's fact list. Malformed payloads are rejected without touching the store."),
			mcp.WithDestructiveHintAnnotation(true),
		}, withConvArgs(
			mcp.WithString("payload",
				mcp.Required(),
				mcp.Description("The exported JSON document"),
			),
		)...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := req.RequireString("payload")
		if err != nil {
			return mcp.NewToolResultError("payload is required"), nil
		}

		applied, err := eng.Import(ctx, cc, strings.NewReader(payload))
		if err != nil {
			if errors.Is(err, memory.ErrInvalidPayload) {
				return mcp.NewToolResultError("invalid payload: expected an exported memory document"), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}
		if !applied {
			return mcp.NewToolResultError("persona does not own this conversation's memory"), nil
		}

		stats, err := eng.StoreStats(ctx, cc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}
		out := map[string]interface{}{
			"imported": true,
			"facts":    stats.Facts,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, eng *engine.Engine) {
	tool := mcp.NewTool("memory_stats",
		append([]mcp.ToolOption{
			mcp.WithDescription("Show fact counts and owner-lock state for the conversation's memory store."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		}, withConvArgs()...)...,
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engMu.Lock()
		defer engMu.Unlock()

		cc, err := convContext(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		stats, err := eng.StoreStats(ctx, cc)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		out := map[string]interface{}{
			"facts":    stats.Facts,
			"active":   stats.Active,
			"inactive": stats.Inactive,
			"owner":    stats.Owner,
			"locked":   stats.Locked,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
