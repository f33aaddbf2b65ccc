package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keygate/keygate/internal/service"
)

// maxKeyBatch matches the admin API limit on one generation request.
const maxKeyBatch = 1000

// registerTools registers all keygate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Products -----

	srv.AddTool(
		mcp.NewTool("keygate_list_products",
			mcp.WithDescription(
				"List every product with its frozen state. Use this first to find "+
					"product IDs for the other tools.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListProducts,
	)

	srv.AddTool(
		mcp.NewTool("keygate_create_product",
			mcp.WithDescription("Create a product that licenses and keys can grant access to."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id",
				mcp.Required(),
				mcp.Description("Unique product identifier, as sent by clients in X-Product-ID"),
			),
			mcp.WithString("name",
				mcp.Description("Display name"),
			),
		),
		s.handleCreateProduct,
	)

	srv.AddTool(
		mcp.NewTool("keygate_freeze_product",
			mcp.WithDescription(
				"Freeze a product. Access checks for it fail with LicenseFrozen and "+
					"holders stop losing time until it is unfrozen.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id", mcp.Required(), mcp.Description("Product to freeze")),
		),
		s.handleFreezeProduct,
	)

	srv.AddTool(
		mcp.NewTool("keygate_unfreeze_product",
			mcp.WithDescription(
				"Unfreeze a product. Every holder's grant window is shifted by the "+
					"frozen duration so no time is lost.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id", mcp.Required(), mcp.Description("Product to unfreeze")),
		),
		s.handleUnfreezeProduct,
	)

	srv.AddTool(
		mcp.NewTool("keygate_compensate_product",
			mcp.WithDescription("Add hours to every license holding the product."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id", mcp.Required(), mcp.Description("Product to compensate")),
			mcp.WithNumber("hours", mcp.Required(), mcp.Description("Hours to add, at least 1")),
		),
		s.handleCompensateProduct,
	)

	// ----- Licenses -----

	srv.AddTool(
		mcp.NewTool("keygate_generate_license",
			mcp.WithDescription(
				"Generate a new license key granting the given products. The grant "+
					"windows start now.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithObject("products",
				mcp.Required(),
				mcp.Description("Map of product ID to granted seconds, e.g. {\"pro\": 2592000}"),
			),
		),
		s.handleGenerateLicense,
	)

	srv.AddTool(
		mcp.NewTool("keygate_lookup_license",
			mcp.WithDescription(
				"Show a license: bound hardware ID, granted products, and its most "+
					"recent authorization attempts.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("license_key", mcp.Required(), mcp.Description("License key")),
			mcp.WithNumber("attempts", mcp.Description("Number of recent attempts to include (default 10, max 100)")),
		),
		s.handleLookupLicense,
	)

	srv.AddTool(
		mcp.NewTool("keygate_reset_hwid",
			mcp.WithDescription("Unbind the hardware ID of a license so the next device to authorize binds it."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("license_key", mcp.Required(), mcp.Description("License key")),
		),
		s.handleResetHWID,
	)

	srv.AddTool(
		mcp.NewTool("keygate_remove_license_products",
			mcp.WithDescription("Revoke products from a license."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("license_key", mcp.Required(), mcp.Description("License key")),
			mcp.WithArray("product_ids",
				mcp.Required(),
				mcp.Description("Products to revoke"),
				mcp.WithStringItems(),
			),
		),
		s.handleRemoveLicenseProducts,
	)

	// ----- Redemption keys -----

	srv.AddTool(
		mcp.NewTool("keygate_generate_keys",
			mcp.WithDescription(
				"Generate single-use redemption keys for a product. Each key adds "+
					"duration seconds to the redeeming license.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("product_id", mcp.Required(), mcp.Description("Product the keys grant")),
			mcp.WithNumber("duration", mcp.Required(), mcp.Description("Seconds granted per key")),
			mcp.WithNumber("count", mcp.Description("Number of keys (default 1, max 1000)")),
		),
		s.handleGenerateKeys,
	)

	// ----- Users and bans -----

	srv.AddTool(
		mcp.NewTool("keygate_list_users",
			mcp.WithDescription("List user accounts with their role, ban state and license key."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListUsers,
	)

	srv.AddTool(
		mcp.NewTool("keygate_ban_hwid",
			mcp.WithDescription("Ban a hardware ID. Every license bound to it is denied with Banned."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithString("hwid", mcp.Required(), mcp.Description("Hardware fingerprint")),
			mcp.WithString("reason", mcp.Description("Reason shown to staff")),
		),
		s.handleBanHWID,
	)

	// ----- Logs -----

	srv.AddTool(
		mcp.NewTool("keygate_recent_logs",
			mcp.WithDescription("Return the newest buffered server log entries, oldest first."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50)")),
		),
		s.handleRecentLogs,
	)
}

// --------------------------------------------------------------------------
// Product handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	products, err := s.app.Catalog.ListProducts(ctx)
	if err != nil {
		return s.serviceError("list products", err)
	}
	return successJSON(map[string]interface{}{"products": products, "count": len(products)})
}

func (s *MCPServer) handleCreateProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	p, err := s.app.Catalog.CreateProduct(ctx, id, optionalString(request, "name"))
	if err != nil {
		return s.serviceError("create product", err)
	}
	return successJSON(p)
}

func (s *MCPServer) handleFreezeProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.app.Catalog.FreezeProduct(ctx, id); err != nil {
		return s.serviceError("freeze product", err)
	}
	return successJSON(map[string]interface{}{"product_id": id, "frozen": true})
}

func (s *MCPServer) handleUnfreezeProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	res, err := s.app.Catalog.UnfreezeProduct(ctx, id)
	if err != nil {
		return s.serviceError("unfreeze product", err)
	}
	return successJSON(res)
}

func (s *MCPServer) handleCompensateProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	hours := optionalInt(request, "hours", 0)
	if hours < 1 {
		return toolError("hours must be at least 1")
	}
	n, err := s.app.Catalog.CompensateProduct(ctx, id, int64(hours))
	if err != nil {
		return s.serviceError("compensate product", err)
	}
	return successJSON(map[string]interface{}{"product_id": id, "time_hours": hours, "users_compensated": n})
}

// --------------------------------------------------------------------------
// License handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleGenerateLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	products, err := durationsArg(request, "products")
	if err != nil {
		return toolError("%v", err)
	}
	lic, err := s.app.Keys.GenerateLicense(ctx, products)
	if err != nil {
		return s.serviceError("generate license", err)
	}
	return successJSON(lic)
}

func (s *MCPServer) handleLookupLicense(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	lic, err := s.app.Catalog.GetLicense(ctx, key)
	if err != nil {
		return s.serviceError("lookup license", err)
	}
	attempts, err := s.app.Catalog.LoginAttempts(ctx, key, clamp(optionalInt(request, "attempts", 10), 1, 100))
	if err != nil {
		return s.serviceError("lookup license", err)
	}
	return successJSON(map[string]interface{}{"license": lic, "recent_attempts": attempts})
}

func (s *MCPServer) handleResetHWID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.app.Catalog.ResetHWID(ctx, key); err != nil {
		return s.serviceError("reset hwid", err)
	}
	return successJSON(map[string]interface{}{"license_key": key, "hwid": ""})
}

func (s *MCPServer) handleRemoveLicenseProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := requireString(request, "license_key")
	if err != nil {
		return toolError("%v", err)
	}
	ids := optionalStringSlice(request, "product_ids")
	if len(ids) == 0 {
		return toolError("missing required parameter %q", "product_ids")
	}
	if err := s.app.Catalog.RemoveProductsFromLicense(ctx, key, ids); err != nil {
		return s.serviceError("remove products", err)
	}
	return successJSON(map[string]interface{}{"license_key": key, "removed": ids})
}

// --------------------------------------------------------------------------
// Key handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleGenerateKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(request, "product_id")
	if err != nil {
		return toolError("%v", err)
	}
	duration := optionalInt(request, "duration", 0)
	if duration < 1 {
		return toolError("duration must be at least 1 second")
	}
	count := clamp(optionalInt(request, "count", 1), 1, maxKeyBatch)

	keys, err := s.app.Keys.GenerateRedemptionKeys(ctx, id, int64(duration), count)
	if err != nil {
		if len(keys) > 0 && errors.Is(err, service.ErrCollisionExhausted) {
			return toolError("generated %d of %d keys before giving up: %v\n%v", len(keys), count, err, keys)
		}
		return s.serviceError("generate keys", err)
	}
	return successJSON(map[string]interface{}{"product_id": id, "duration": duration, "keys": keys})
}

// --------------------------------------------------------------------------
// User handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	users, err := s.app.Accounts.ListUsers(ctx)
	if err != nil {
		return s.serviceError("list users", err)
	}
	return successJSON(map[string]interface{}{"users": users, "count": len(users)})
}

func (s *MCPServer) handleBanHWID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hwid, err := requireString(request, "hwid")
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.app.Accounts.BanHWID(ctx, hwid, optionalString(request, "reason")); err != nil {
		return s.serviceError("ban hwid", err)
	}
	return successJSON(map[string]interface{}{"hwid": hwid, "banned": true})
}

func (s *MCPServer) handleRecentLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(optionalInt(request, "limit", 50), 1, s.app.Ring.Cap())
	entries := s.app.Ring.Recent(limit)
	return successJSON(map[string]interface{}{"entries": entries, "count": len(entries)})
}
