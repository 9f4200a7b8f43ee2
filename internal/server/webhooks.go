package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/tenantbill/internal/observability/logger"
)

// maxWebhookBody bounds how much of a delivery is read before verification.
const maxWebhookBody = 1 << 20

// HandleGatewayWebhook hands the raw delivery to the reconciler. Every
// processed outcome is acknowledged with 200; failures, including conflicts
// with local state, map to a non-2xx status so the processor redelivers.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	client, err := s.gateways.Get(provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if len(payload) > maxWebhookBody {
		AbortWithError(c, ErrPayloadTooLarge)
		return
	}
	signature := c.GetHeader(client.SignatureHeader())

	result, err := s.reconcileSvc.Ingest(c.Request.Context(), provider, payload, signature)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(obslogger.WebhookEventIDKey, result.EventID)

	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": result})
}
