package mcp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/app"
	"github.com/keygate/keygate/internal/server/middleware"
)

// MCPServer wraps the mcp-go server with keygate's administration tools and
// resources, so an operator's agent can manage products, licenses and keys.
type MCPServer struct {
	app    *app.App
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all keygate tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(a *app.App, version string) *MCPServer {
	s := &MCPServer{
		app:    a,
		logger: a.Logger.With("component", "mcp"),
	}

	mcpServer := server.NewMCPServer(
		"keygate",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// keygate as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts a standalone Streamable HTTP listener on addr. Callers
// authenticate the same way as on the API server's /mcp route.
func (s *MCPServer) ServeHTTP(addr string) error {
	h := middleware.Authenticate(s.app.Auth)(middleware.RequireAdmin()(s.Handler()))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.ListenAndServe()
}

// Handler returns a Streamable HTTP handler for mounting inside the API
// server behind its authentication.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.server, server.WithStateLess(true))
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func destructiveAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
