// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the memory engine to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/noteservice"
)

const contractURI = "vaultkeeper://note-format"

// Server wraps the MCP server with vault tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Vaultkeeper",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("remember",
		mcp.WithDescription("Record facts stated in natural language (e.g. \"Michael likes flowers\"). "+
			"Names are resolved against existing entities; ambiguous names are reported back "+
			"instead of guessed."),
		mcp.WithString("text", mcp.Required(), mcp.Description("One or more factual statements")),
	), s.remember)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Answer a question using only what the vault records, with citations. "+
			"Never creates notes."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question about an entity or topic")),
	), s.ask)

	s.mcp.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read one entity note: name, aliases, facts, backlinks and prose."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id (the note file name without .md)")),
	), s.readEntity)

	s.mcp.AddTool(mcp.NewTool("search_vault",
		mcp.WithDescription("Full-text and semantic search across entity notes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchVault)

	s.mcp.AddTool(mcp.NewTool("list_entities",
		mcp.WithDescription("List entity ids and names."),
		mcp.WithNumber("limit", mcp.Description("Page size")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listEntities)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the entities whose facts point at the given entity."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the entity note format contract."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("Entity note format and the rules the engine enforces."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) remember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.svc.Remember(ctx, text)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(resp.Text), nil
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.svc.Ask(ctx, question)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(resp.Text), nil
}

func (s *Server) readEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetEntity(ctx, strings.TrimSuffix(id, ".md"))
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return toolError(err), nil
	}
	return jsonResult(d), nil
}

func (s *Server) searchVault(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(hits), nil
}

func (s *Server) listEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, total, err := s.svc.ListEntities(ctx, req.GetInt("limit", 0), req.GetInt("offset", 0))
	if err != nil {
		return toolError(err), nil
	}
	lines := make([]string, 0, len(rows)+1)
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s\t%s", r.ID, r.Name))
	}
	lines = append(lines, fmt.Sprintf("(%d of %d)", len(rows), total))
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, strings.TrimSuffix(id, ".md"))
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
		}
		return toolError(err), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, len(bl))
	for i, b := range bl {
		lines[i] = b.Entity
		if b.Predicate != "" {
			lines[i] += " (" + b.Predicate + ")"
		}
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func toolError(err error) *mcp.CallToolResult {
	if apperr.Is(err, apperr.ErrStorageConflict) {
		return mcp.NewToolResultError("the vault is busy, try again")
	}
	return mcp.NewToolResultError(err.Error())
}
