package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x402proto/facilitator/types"
)

// verifyRequest is the POST /verify request body (spec.md §6).
type verifyRequest struct {
	PaymentPayload      types.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// settleRequest is the POST /settle request body.
type settleRequest struct {
	PaymentPayload      types.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	result, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.RecordVerify(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed", "details": err.Error()})
		return
	}

	s.metrics.RecordVerify(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, result.IsValid)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	result, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.RecordSettle(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, false)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed", "details": err.Error()})
		return
	}

	s.metrics.RecordSettle(req.PaymentRequirements.Network, req.PaymentRequirements.Scheme, result.Success)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}
