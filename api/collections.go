package api

import (
	"net/http"
	"strconv"

	model2 "github.com/juntapay/junta/api/model"

	"github.com/gin-gonic/gin"
)

func (a Api) ScheduleRound(c *gin.Context) {
	poolID := c.Param("id")
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "round must be a number"})
		return
	}

	var req model2.ScheduleRound
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.ValidateScheduleRound(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	resp, err := a.junta.ScheduleCollectionsForRound(c.Request.Context(), poolID, round, req.DueDate, req.GraceHours, req.RequestedBy)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetCollection(c *gin.Context) {
	id := c.Param("id")

	collection, err := a.junta.GetCollection(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (a Api) GetCollectionsForRound(c *gin.Context) {
	poolID := c.Param("id")
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "round must be a number"})
		return
	}

	collections, err := a.junta.GetCollectionsForRound(c.Request.Context(), poolID, round)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

func (a Api) CancelCollection(c *gin.Context) {
	id := c.Param("id")

	var req model2.CancelCollection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateCancelCollection(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	collection, err := a.junta.CancelCollection(c.Request.Context(), id, req.RequestedBy, req.Reason)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (a Api) ManualPayment(c *gin.Context) {
	id := c.Param("id")

	var req model2.ManualPayment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateManualPayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	collection, err := a.junta.MarkManuallyPaid(c.Request.Context(), id, req.RecordedBy)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (a Api) RetryCollection(c *gin.Context) {
	id := c.Param("id")

	var req model2.RetryCollection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateRetryCollection(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	collection, err := a.junta.RetryCollectionNow(c.Request.Context(), id, req.RequestedBy)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}
