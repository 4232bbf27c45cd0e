package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/sift/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"sampler", "model", "download"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"sampler_next_tokens": {
		def:     nextTokensToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNextTokens },
	},
	"sampler_explore": {
		def:     exploreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExplore },
	},
	"model_list": {
		def:     modelListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModelList },
	},
	"model_lookup": {
		def:     modelLookupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModelLookup },
	},
	"model_switch": {
		def:     modelSwitchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModelSwitch },
	},
	"model_rename": {
		def:     modelRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModelRename },
	},
	"model_card": {
		def:     modelCardToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleModelCard },
	},
	"download_start": {
		def:     downloadStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadStart },
	},
	"download_status": {
		def:     downloadStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadStatus },
	},
	"download_list": {
		def:     downloadListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadList },
	},
	"download_cancel": {
		def:     downloadCancelToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadCancel },
	},
	"download_cleanup": {
		def:     downloadCleanupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDownloadCleanup },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "download_start" → "download").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with the sift tools registered.
// Tools listed in DisabledTools or belonging to DisabledTypes are skipped.
func NewServer(deps ops.Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"sift",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps)
	cfg := deps.Config

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the tools over stdio until the client disconnects.
func Run(deps ops.Deps, version string) error {
	return server.ServeStdio(NewServer(deps, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
