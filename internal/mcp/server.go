package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"intake_validate": {
		def:     validateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleValidate },
	},
	"intake_canonicalize": {
		def:     canonicalizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCanonicalize },
	},
	"intake_draft_fetch": {
		def:     draftFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDraftFetch },
	},
	"intake_draft_list": {
		def:     draftListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDraftList },
	},
	"intake_draft_clear": {
		def:     draftClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDraftClear },
	},
	"intake_draft_purge": {
		def:     draftPurgeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDraftPurge },
	},
	"intake_submission_list": {
		def:     submissionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmissionList },
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

// NewServer creates a new MCP server with the intake tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, version string, log *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"intake",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, log)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
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

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string, log *zap.Logger) error {
	s := NewServer(db, cfg, version, log)
	return server.ServeStdio(s)
}
