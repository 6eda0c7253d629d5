package api

import (
	"net/http"

	model2 "github.com/juntapay/junta/api/model"

	"github.com/gin-gonic/gin"
)

func (a Api) ExecutePayout(c *gin.Context) {
	poolID := c.Param("id")

	var req model2.ExecutePayout
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateExecutePayout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	outcome, err := a.junta.ExecutePayout(c.Request.Context(), poolID, req.RequestedBy)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

func (a Api) GetPayoutState(c *gin.Context) {
	state, err := a.junta.RoundPayoutState(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool_id": c.Param("id"), "state": state})
}
