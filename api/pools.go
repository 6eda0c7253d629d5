package api

import (
	"net/http"

	model2 "github.com/juntapay/junta/api/model"

	"github.com/gin-gonic/gin"
)

func (a Api) CreatePool(c *gin.Context) {
	var newPool model2.CreatePool
	if err := c.ShouldBindJSON(&newPool); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := newPool.ValidateCreatePool()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.junta.CreatePool(c.Request.Context(), newPool.ToPool())
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPool(c *gin.Context) {
	id := c.Param("id")

	pool, err := a.junta.GetPool(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, pool)
}

func (a Api) GetAllPools(c *gin.Context) {
	limit, offset := pagination(c)
	pools, err := a.junta.GetAllPools(c.Request.Context(), limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, pools)
}

func (a Api) RegisterAuthorization(c *gin.Context) {
	poolID := c.Param("id")

	var newAuth model2.CreateAuthorization
	if err := c.ShouldBindJSON(&newAuth); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := newAuth.ValidateCreateAuthorization()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.junta.RegisterAuthorization(c.Request.Context(), newAuth.ToAuthorization(poolID))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetLedgerEntries(c *gin.Context) {
	poolID := c.Param("id")
	limit, offset := pagination(c)

	entries, err := a.junta.GetLedgerEntries(c.Request.Context(), poolID, limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a Api) GetAuditTrail(c *gin.Context) {
	poolID := c.Param("id")
	limit, offset := pagination(c)

	entries, err := a.junta.GetAuditTrail(c.Request.Context(), poolID, limit, offset)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
