package oauth

import (
	"encoding/json"
	"net/http"

	svc "github.com/clave-auth/clave/internal/http/services/oauth"
)

// DiscoveryController serves GET /.well-known/openid-configuration.
type DiscoveryController struct {
	service svc.DiscoveryService
}

// NewDiscoveryController creates the controller.
func NewDiscoveryController(s svc.DiscoveryService) *DiscoveryController {
	return &DiscoveryController{service: s}
}

// Discovery emits the RFC 8414 document. Unlike the token endpoints, the
// document is cacheable.
func (c *DiscoveryController) Discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(c.service.Document())
}
