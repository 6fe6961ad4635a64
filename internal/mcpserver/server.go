// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes stencil tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/workspace"
)

const contractURI = "stencil://template-format"

// Server wraps the MCP server with stencil tools.
type Server struct {
	mcp *server.MCPServer
	svc *workspace.Service
}

// New creates a new MCP server with all stencil tools registered.
func New(svc *workspace.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Stencil",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List template files with their binding, output pattern and parse state."),
	), s.listTemplates)

	s.mcp.AddTool(mcp.NewTool("read_template",
		mcp.WithDescription("Read the full content of a template together with the outputs it produced."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Template identity (e.g. dto/entity.tpl)")),
	), s.readTemplate)

	s.mcp.AddTool(mcp.NewTool("template_blocks",
		mcp.WithDescription("Foldable regions (header and multi-line actions) of a template, with 1-based line ranges."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Template identity")),
	), s.templateBlocks)

	s.mcp.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Current status line, queue counters and the summary of the last generation run."),
	), s.getStatus)

	s.mcp.AddTool(mcp.NewTool("regenerate",
		mcp.WithDescription("Queue templates for regeneration. Write templates following the "+
			"contract from the get_template_contract tool or the "+contractURI+" resource."),
		mcp.WithString("templates", mcp.Description("Comma-separated template identities (empty for all)")),
	), s.regenerate)

	s.mcp.AddTool(mcp.NewTool("list_outputs",
		mcp.WithDescription("List generated files with the template and source item that produced them."),
		mcp.WithString("template", mcp.Description("Optional template identity to filter by")),
	), s.listOutputs)

	s.mcp.AddTool(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns the template file format contract."),
	), s.getTemplateContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Template Format Contract",
			mcp.WithResourceDescription("Header fields, placeholders, data and functions available to templates."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateFormatResource,
	)

	return s
}

// Serve runs the stdio transport over in and out until ctx ends or in
// is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(id string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListTemplates(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) readTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetTemplate(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(d)
}

func (s *Server) templateBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	spans, err := s.svc.TemplateBlocks(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(spans)
}

func (s *Server) getStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status(ctx))
}

func (s *Server) regenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var ids []string
	for _, id := range strings.Split(req.GetString("templates", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	n, err := s.svc.Regenerate(ctx, ids)
	if err != nil {
		if errors.Is(err, apperr.ErrClosed) {
			return mcp.NewToolResultError("generation stopped"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queued: %d", n)), nil
}

func (s *Server) listOutputs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := s.svc.ListOutputs(ctx, req.GetString("template", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("no outputs recorded"), nil
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%s\t%s\t%s", r.Path, r.Template, r.Source)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getTemplateContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateFormatContract), nil
}

func (s *Server) readTemplateFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     TemplateFormatContract,
		},
	}, nil
}
