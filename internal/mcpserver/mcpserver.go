// Package mcpserver exposes the chat pipeline as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/zapup-go/internal/catalog"
	"github.com/comigor/zapup-go/internal/conversation"
	"github.com/comigor/zapup-go/internal/logger"
	"github.com/comigor/zapup-go/internal/session"
)

const (
	serverName = "zapup"
	toolAsk    = "ask"
	toolModels = "list_models"
)

// Server answers MCP tool calls with fresh sessions from a Manager.
type Server struct {
	sessions *session.Manager
	catalog  *catalog.Catalog
	mcp      *server.MCPServer
}

// New registers the ask and list_models tools.
func New(sessions *session.Manager, cat *catalog.Catalog, version string) *Server {
	s := &Server{
		sessions: sessions,
		catalog:  cat,
		mcp:      server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(toolAsk,
		mcp.WithDescription("Ask a language model a question and return its answer"),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to ask")),
		mcp.WithString("model", mcp.Description("Model id; defaults to the configured model")),
	), s.handleAsk)

	s.mcp.AddTool(mcp.NewTool(toolModels,
		mcp.WithDescription("List the selectable models grouped by provider"),
		mcp.WithString("search", mcp.Description("Case-insensitive substring filter on model ids")),
	), s.handleListModels)

	return s
}

// ServeStdio serves MCP requests on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	logger.L.Info("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query := stringArg(args, "query")

	sess, err := s.sessions.Create()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if err := s.sessions.Delete(sess.ID); err != nil {
			logger.L.Warn("discard session failed", "session", sess.ID, "error", err)
		}
	}()

	if model := stringArg(args, "model"); model != "" {
		if err := sess.Selection.Select(model); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	reply, err := sess.Orchestrator.Submit(ctx, query, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if reply.Role == conversation.RoleError {
		return mcp.NewToolResultError(reply.Text), nil
	}
	return mcp.NewToolResultText(reply.Text), nil
}

func (s *Server) handleListModels(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	providers := s.catalog.Search(stringArg(req.GetArguments(), "search"))
	out, err := json.Marshal(providers)
	if err != nil {
		return nil, fmt.Errorf("encode models: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}
