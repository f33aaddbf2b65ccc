package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const licenseURIPrefix = "keygate://licenses/"

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// keygate://products: the product catalog
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"keygate://products",
			"Products",
			mcp.WithResourceDescription("Every product with its frozen state."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleProductsResource,
	)

	// -------------------------------------------------------------------
	// keygate://licenses/{key}: one license (template)
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			licenseURIPrefix+"{key}",
			"License",
			mcp.WithTemplateDescription("A license with its granted products and sessions."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleLicenseResource,
	)
}

func (s *MCPServer) handleProductsResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	products, err := s.app.Catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return jsonResource(request.Params.URI, products)
}

func (s *MCPServer) handleLicenseResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	key := strings.TrimPrefix(uri, licenseURIPrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid license URI %q: expected %s{key}", uri, licenseURIPrefix)
	}

	lic, err := s.app.Catalog.GetLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	sessions, err := s.app.Catalog.ListSessions(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	lic.Sessions = sessions
	return jsonResource(uri, lic)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
