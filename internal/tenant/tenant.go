// Package tenant resolves the isolation boundary for every request.
// Resolution order: tenant_id claim of a bearer JWT, then the X-Tenant-ID
// header, then "default". With a configured secret the token signature is
// verified (HMAC); without one the claims are read unverified, which matches
// the permissive identity boundary of development deployments.
package tenant

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/loykin/resultstream/internal/event"
)

const (
	// Header is the plain-header fallback for producers without tokens.
	Header = "X-Tenant-ID"

	contextKey = "resultstream.tenant"
)

// Claims carries the tenant claim this service cares about.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Resolver extracts tenants from requests.
type Resolver struct {
	secret []byte
}

// NewResolver returns a Resolver. An empty secret disables signature
// verification.
func NewResolver(secret string) *Resolver {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Resolver{secret: key}
}

// Middleware stores the resolved tenant in the gin context for handlers.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextKey, r.Resolve(c.GetHeader("Authorization"), c.GetHeader(Header)))
		c.Next()
	}
}

// FromContext returns the tenant resolved by Middleware, or the default.
func FromContext(c *gin.Context) string {
	if v, ok := c.Get(contextKey); ok {
		if tenant, ok := v.(string); ok && tenant != "" {
			return tenant
		}
	}
	return event.DefaultTenant
}

// Resolve applies the resolution order to raw header values.
func (r *Resolver) Resolve(authorization, headerTenant string) string {
	if token := parseBearer(authorization); token != "" {
		if tenant := r.tenantFromToken(token); tenant != "" {
			return tenant
		}
	}
	if headerTenant != "" {
		return headerTenant
	}
	return event.DefaultTenant
}

func (r *Resolver) tenantFromToken(token string) string {
	claims := &Claims{}
	if r.secret != nil {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return r.secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !parsed.Valid {
			return ""
		}
		return claims.TenantID
	}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.TenantID
}

func parseBearer(authorization string) string {
	parts := strings.Fields(authorization)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
