package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/tenantbill/internal/usage/domain"
)

func (s *Server) RecordUsage(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}

	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.MetricType = usagedomain.MetricType(strings.ToLower(strings.TrimSpace(string(req.MetricType))))
	req.Unit = strings.TrimSpace(req.Unit)

	metric, err := s.usageSvc.Record(c.Request.Context(), tenant.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": metric})
}

func (s *Server) ListUsage(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
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
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	req := usagedomain.ListMetricsRequest{
		MetricType: usagedomain.MetricType(strings.ToLower(strings.TrimSpace(c.Query("metric_type")))),
		From:       from,
		To:         to,
		Limit:      limit,
	}

	metrics, err := s.usageSvc.ListMetrics(c.Request.Context(), tenant.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": metrics})
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}

	summaries, err := s.usageSvc.Summary(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summaries})
}
