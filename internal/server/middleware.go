package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbill/internal/errkind"
	obscontext "github.com/smallbiznis/tenantbill/internal/observability/context"
	tenantdomain "github.com/smallbiznis/tenantbill/internal/tenant/domain"
	"github.com/smallbiznis/tenantbill/internal/tenantcontext"
)

const (
	HeaderTenant     = "X-Tenant-ID"
	contextTenantKey = "tenant"
	actorTypeTenant  = "tenant"
)

// TenantContext resolves the calling tenant from the X-Tenant-ID header and
// scopes the request context to it. Deactivated tenants still resolve so they
// can read their billing history; services reject writes for them.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			AbortWithError(c, ErrTenantRequired)
			return
		}
		tenantID, err := snowflake.ParseString(raw)
		if err != nil || tenantID == 0 {
			AbortWithError(c, ErrTenantRequired)
			return
		}

		ctx := c.Request.Context()
		tenant, err := s.tenantSvc.Get(ctx, tenantID)
		if err != nil {
			if errkind.IsNotFound(err) {
				AbortWithError(c, ErrTenantRequired.Wrap(err))
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx = tenantcontext.WithTenantID(ctx, tenant.ID)
		ctx = obscontext.WithActor(ctx, actorTypeTenant, tenant.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantKey, tenant)

		c.Next()
	}
}

func tenantFromContext(c *gin.Context) (tenantdomain.Tenant, bool) {
	value, ok := c.Get(contextTenantKey)
	if !ok {
		return tenantdomain.Tenant{}, false
	}
	tenant, ok := value.(tenantdomain.Tenant)
	return tenant, ok
}

func requireTenant(c *gin.Context) (tenantdomain.Tenant, bool) {
	tenant, ok := tenantFromContext(c)
	if !ok || tenant.ID == 0 {
		AbortWithError(c, ErrTenantRequired)
		return tenantdomain.Tenant{}, false
	}
	return tenant, true
}
