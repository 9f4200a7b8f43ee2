package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	onboardingdomain "github.com/smallbiznis/tenantbill/internal/onboarding/domain"
)

type RegisterTenantRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	TrialDays *int   `json:"trial_days"`
}

func (s *Server) RegisterTenant(c *gin.Context) {
	var req RegisterTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.onboardingSvc.Register(c.Request.Context(), onboardingdomain.Request{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		TrialDays: req.TrialDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) GetCurrentTenant(c *gin.Context) {
	tenant, ok := requireTenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenant})
}
