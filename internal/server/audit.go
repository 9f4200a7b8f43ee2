package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tenantbill/internal/audit/domain"
	"github.com/smallbiznis/tenantbill/pkg/db/pagination"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, ok := queryTime(c, "from", false)
	if !ok {
		return
	}
	to, ok := queryTime(c, "to", true)
	if !ok {
		return
	}

	req := auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		TenantID:   tenant.ID,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
	}
	if !from.IsZero() {
		req.StartAt = &from
	}
	if !to.IsZero() {
		req.EndAt = &to
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
