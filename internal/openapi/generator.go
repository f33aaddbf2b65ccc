// Package openapi builds the OpenAPI 3.1 description of the keygate HTTP
// API.
package openapi

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Access describes how a route authenticates.
type Access int

const (
	Public Access = iota
	// License routes authenticate with the X-License-Key header.
	License
	// User routes need a user bearer token.
	User
	// Staff routes admit support, dev and admin.
	Staff
	// Admin routes admit admins and the service API key.
	Admin
)

// Route is one documented operation.
type Route struct {
	Method   string
	Path     string
	Tag      string
	Summary  string
	Access   Access
	Request  string
	Response string
	List     bool
	Status   string
	Params   []string
	Headers  []string
}

// Routes lists every operation served under /api/v1.
var Routes = []Route{
	{Method: "POST", Path: "/auth", Tag: "auth", Summary: "Check access to a product", Access: User, Request: "AuthorizeRequest", Response: "AuthorizeResponse"},
	{Method: "POST", Path: "/license/auth", Tag: "license", Summary: "Check access with a license key", Access: License, Response: "AuthorizeResponse", Headers: []string{"X-Product-ID", "X-HWID"}},
	{Method: "GET", Path: "/license/product", Tag: "license", Summary: "Entitlement of a license to a product", Access: License, Response: "ProductStatus", Headers: []string{"X-Product-ID"}},
	{Method: "POST", Path: "/license/sessions", Tag: "license", Summary: "Start a client session", Access: License, Response: "Session", Status: "201"},
	{Method: "DELETE", Path: "/license/sessions/{sessionID}", Tag: "license", Summary: "End a client session", Access: License, Response: "Success"},

	{Method: "POST", Path: "/account/login", Tag: "account", Summary: "Exchange email and password for a token", Access: Public, Request: "LoginRequest", Response: "LoginResponse"},
	{Method: "POST", Path: "/account/logout", Tag: "account", Summary: "Revoke the presented token", Access: User, Response: "Success"},
	{Method: "GET", Path: "/account/me", Tag: "account", Summary: "The caller's account", Access: User, Response: "User"},
	{Method: "GET", Path: "/account/products", Tag: "account", Summary: "Products available to the caller", Access: User, Response: "ProductStatus", List: true},
	{Method: "POST", Path: "/account/redeem", Tag: "account", Summary: "Redeem a key onto the caller's license", Access: User, Request: "RedeemRequest", Response: "RedeemResult"},

	{Method: "GET", Path: "/admin/products", Tag: "products", Summary: "List products", Access: Staff, Response: "Product", List: true},
	{Method: "POST", Path: "/admin/products", Tag: "products", Summary: "Create a product", Access: Admin, Request: "CreateProductRequest", Response: "Product", Status: "201"},
	{Method: "GET", Path: "/admin/products/{productID}", Tag: "products", Summary: "Get a product", Access: Staff, Response: "Product"},
	{Method: "DELETE", Path: "/admin/products/{productID}", Tag: "products", Summary: "Delete a product", Access: Admin, Response: "Success"},
	{Method: "POST", Path: "/admin/products/{productID}/freeze", Tag: "products", Summary: "Freeze a product", Access: Admin, Response: "Success"},
	{Method: "POST", Path: "/admin/products/{productID}/unfreeze", Tag: "products", Summary: "Unfreeze a product and compensate holders", Access: Admin, Response: "UnfreezeResult"},
	{Method: "POST", Path: "/admin/products/{productID}/compensate", Tag: "products", Summary: "Add hours to every holder", Access: Admin, Request: "CompensateRequest", Response: "CompensateResult"},
	{Method: "POST", Path: "/admin/products/{productID}/keys", Tag: "keys", Summary: "Generate redemption keys", Access: Admin, Request: "GenerateKeysRequest", Response: "GenerateKeysResponse", Status: "201"},
	{Method: "GET", Path: "/admin/products/{productID}/keys", Tag: "keys", Summary: "List unredeemed keys", Access: Staff, Response: "RedemptionKey", List: true},
	{Method: "DELETE", Path: "/admin/keys/{key}", Tag: "keys", Summary: "Delete an unredeemed key", Access: Admin, Response: "Success"},

	{Method: "GET", Path: "/admin/licenses", Tag: "licenses", Summary: "List licenses", Access: Staff, Response: "License", List: true},
	{Method: "POST", Path: "/admin/licenses", Tag: "licenses", Summary: "Generate a license", Access: Admin, Request: "LicenseProductsRequest", Response: "License", Status: "201"},
	{Method: "GET", Path: "/admin/licenses/{licenseKey}", Tag: "licenses", Summary: "Get a license", Access: Staff, Response: "License"},
	{Method: "DELETE", Path: "/admin/licenses/{licenseKey}", Tag: "licenses", Summary: "Delete a license", Access: Admin, Response: "Success"},
	{Method: "POST", Path: "/admin/licenses/{licenseKey}/products", Tag: "licenses", Summary: "Grant products", Access: Admin, Request: "LicenseProductsRequest", Response: "Success"},
	{Method: "POST", Path: "/admin/licenses/{licenseKey}/remove-products", Tag: "licenses", Summary: "Revoke products", Access: Admin, Request: "RemoveProductsRequest", Response: "Success"},
	{Method: "POST", Path: "/admin/licenses/{licenseKey}/reset-hwid", Tag: "licenses", Summary: "Unbind the hardware fingerprint", Access: Admin, Response: "Success"},
	{Method: "GET", Path: "/admin/licenses/{licenseKey}/sessions", Tag: "licenses", Summary: "Sessions of a license", Access: Staff, Response: "Session", List: true},
	{Method: "GET", Path: "/admin/sessions", Tag: "licenses", Summary: "Open sessions", Access: Staff, Response: "Session", List: true},
	{Method: "GET", Path: "/admin/logins", Tag: "audit", Summary: "Recent authorization attempts", Access: Staff, Response: "LoginAttempt", List: true, Params: []string{"license_key", "limit"}},

	{Method: "GET", Path: "/admin/users", Tag: "users", Summary: "List users", Access: Staff, Response: "User", List: true},
	{Method: "POST", Path: "/admin/users", Tag: "users", Summary: "Create a user", Access: Admin, Request: "CreateUserRequest", Response: "User", Status: "201"},
	{Method: "GET", Path: "/admin/users/{userID}", Tag: "users", Summary: "Get a user", Access: Staff, Response: "User"},
	{Method: "PUT", Path: "/admin/users/{userID}/role", Tag: "users", Summary: "Change a role and revoke earlier tokens", Access: Admin, Request: "SetRoleRequest", Response: "Success"},
	{Method: "POST", Path: "/admin/users/{userID}/ban", Tag: "users", Summary: "Ban a user", Access: Admin, Response: "Success"},
	{Method: "DELETE", Path: "/admin/users/{userID}/ban", Tag: "users", Summary: "Unban a user", Access: Admin, Response: "Success"},
	{Method: "POST", Path: "/admin/users/{userID}/revoke", Tag: "users", Summary: "Revoke every earlier token", Access: Admin, Response: "Success"},
	{Method: "DELETE", Path: "/admin/users/{userID}/revoke", Tag: "users", Summary: "Clear a token cutoff", Access: Admin, Response: "Success"},

	{Method: "GET", Path: "/admin/hwid-bans", Tag: "bans", Summary: "List banned fingerprints", Access: Staff, Response: "BannedHWID", List: true},
	{Method: "POST", Path: "/admin/hwid-bans", Tag: "bans", Summary: "Ban a fingerprint", Access: Admin, Request: "BanHWIDRequest", Response: "Success", Status: "201"},
	{Method: "DELETE", Path: "/admin/hwid-bans/{hwid}", Tag: "bans", Summary: "Unban a fingerprint", Access: Admin, Response: "Success"},

	{Method: "GET", Path: "/admin/logs", Tag: "audit", Summary: "Buffered log entries", Access: Staff, Response: "LogEntry", List: true, Params: []string{"limit"}},
	{Method: "DELETE", Path: "/admin/logs", Tag: "audit", Summary: "Clear the log buffer", Access: Admin, Response: "Success"},
}

// Generate builds the document for a server reachable at baseURL.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "License issuance, redemption and access checks.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: strings.TrimSuffix(baseURL, "/") + "/api/v1"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-API-Key"},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		},
		"licenseKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: "X-License-Key"},
		},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	for _, rt := range Routes {
		item := doc.Paths.Value(rt.Path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(rt.Path, item)
		}
		item.SetOperation(rt.Method, operation(rt))
	}
	return doc
}

func operation(rt Route) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{rt.Tag},
		Summary:     rt.Summary,
		OperationID: operationID(rt),
		Security:    security(rt.Access),
	}

	for _, name := range pathParams(rt.Path) {
		p := openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema())
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: p})
	}
	for _, name := range rt.Params {
		schema := openapi3.NewStringSchema()
		if name == "limit" {
			schema = openapi3.NewIntegerSchema()
		}
		p := openapi3.NewQueryParameter(name).WithSchema(schema)
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: p})
	}
	for _, name := range rt.Headers {
		p := openapi3.NewHeaderParameter(name).WithRequired(true).WithSchema(openapi3.NewStringSchema())
		op.Parameters = append(op.Parameters, &openapi3.ParameterRef{Value: p})
	}

	if rt.Request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(schemaRef(rt.Request)),
			},
		}
	}

	response := schemaRef(rt.Response)
	if rt.List {
		response = listSchema(rt.Response)
	}
	status := rt.Status
	if status == "" {
		status = "200"
	}
	op.Responses = newResponses(status, rt.Summary, response, rt.Access)
	return op
}

// security returns the requirement for an access level; nil inherits the
// document default, which is none.
func security(a Access) *openapi3.SecurityRequirements {
	var req openapi3.SecurityRequirements
	switch a {
	case License:
		req = openapi3.SecurityRequirements{{"licenseKey": {}}}
	case User:
		req = openapi3.SecurityRequirements{{"bearerAuth": {}}}
	case Staff, Admin:
		req = openapi3.SecurityRequirements{{"bearerAuth": {}}, {"apiKey": {}}}
	default:
		return nil
	}
	return &req
}

func operationID(rt Route) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(rt.Method))
	for _, seg := range strings.Split(rt.Path, "/") {
		seg = strings.Trim(seg, "{}")
		for _, part := range strings.Split(seg, "-") {
			b.WriteString(capitalize(part))
		}
	}
	return b.String()
}

func pathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, seg[1:len(seg)-1])
		}
	}
	return out
}

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(fmt.Sprintf("#/components/schemas/%s", name), nil)
}

// listSchema wraps a component in the {resource, meta} list envelope.
func listSchema(item string) *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"resource": &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: schemaRef(item),
			},
		},
		"meta": object(openapi3.Schemas{"count": integer("Number of items returned.")}),
	})
}

// newResponses creates the success response plus the error responses that
// apply at the route's access level.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, access Access) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := schemaRef("ErrorResponse")
	add := func(code, desc string) {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	add("400", "Bad request")
	if access != Public && access != License {
		add("401", "Unauthorized")
	}
	if access == Staff || access == Admin {
		add("403", "Insufficient role")
	}
	add("500", "Internal server error")
	return responses
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
