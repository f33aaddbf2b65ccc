package handler

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/keygate/keygate/internal/openapi"
)

// maxCachedDocs bounds the per-host document cache; Host is client supplied.
const maxCachedDocs = 16

// OpenAPIHandler serves the OpenAPI 3.1 description of the API. The document
// is built once per base URL.
type OpenAPIHandler struct {
	version string

	mu   sync.Mutex
	docs map[string]*openapi3.T
}

// NewOpenAPIHandler creates a handler documenting the given server version.
func NewOpenAPIHandler(version string) *OpenAPIHandler {
	return &OpenAPIHandler{version: version, docs: make(map[string]*openapi3.T)}
}

// ServeSpec returns the document with the server URL taken from the request.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.document(baseURL(r)))
}

func (h *OpenAPIHandler) document(base string) *openapi3.T {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[base]
	if !ok {
		doc = openapi.Generate(base, h.version)
		if len(h.docs) < maxCachedDocs {
			h.docs[base] = doc
		}
	}
	return doc
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
