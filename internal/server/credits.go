package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/clinicbill/internal/credit/domain"
)

func (s *Server) CreateCredit(c *gin.Context) {
	var req creditdomain.CreateCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}
	req.ClinicID = clinicIDFrom(c)

	resp, err := s.creditSvc.CreateCredit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetCredit(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.creditSvc.GetCredit(c.Request.Context(), clinicIDFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ApplyCredit(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req creditdomain.ApplyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}
	req.ClinicID = clinicIDFrom(c)
	req.CreditID = id

	resp, err := s.creditSvc.ApplyCredit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TransferCredit(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req creditdomain.TransferCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err))
		return
	}
	req.ClinicID = clinicIDFrom(c)
	req.CreditID = id

	resp, err := s.creditSvc.TransferCredit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
