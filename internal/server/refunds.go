package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	refunddomain "github.com/smallbiznis/clinicbill/internal/refund/domain"
)

func (s *Server) RequestRefund(c *gin.Context) {
	var req refunddomain.RequestRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}
	req.ClinicID = clinicIDFrom(c)

	resp, err := s.refundSvc.RequestRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Status != refunddomain.RefundStatusCompleted {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": resp})
}

func (s *Server) GetRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.refundSvc.GetRefund(c.Request.Context(), clinicIDFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApproveRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.refundSvc.ApproveRefund(c.Request.Context(), refunddomain.ApproveRefundRequest{
		ClinicID: clinicIDFrom(c),
		RefundID: id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeclineRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req refunddomain.DeclineRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}
	req.ClinicID = clinicIDFrom(c)
	req.RefundID = id

	resp, err := s.refundSvc.DeclineRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CompleteRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req refunddomain.CompleteRefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError(err))
			return
		}
	}
	req.ClinicID = clinicIDFrom(c)
	req.RefundID = id

	resp, err := s.refundSvc.CompleteRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
