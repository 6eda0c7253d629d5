/*
Copyright 2024 Junta Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/juntapay/junta"
	"github.com/juntapay/junta/api/middleware"
	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/internal/apierror"
)

type Api struct {
	junta  *junta.Junta
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/pools", a.CreatePool)
	router.GET("/pools/:id", a.GetPool)
	router.GET("/pools", a.GetAllPools)

	router.POST("/pools/:id/authorizations", a.RegisterAuthorization)

	router.POST("/pools/:id/rounds/:round/collections", a.ScheduleRound)
	router.GET("/pools/:id/rounds/:round/collections", a.GetCollectionsForRound)
	router.GET("/collections/:id", a.GetCollection)
	router.POST("/collections/:id/cancel", a.CancelCollection)
	router.POST("/collections/:id/manual-payment", a.ManualPayment)
	router.POST("/collections/:id/retry", a.RetryCollection)

	router.POST("/pools/:id/payout", a.ExecutePayout)
	router.GET("/pools/:id/payout-state", a.GetPayoutState)

	router.GET("/pools/:id/ledger", a.GetLedgerEntries)
	router.GET("/pools/:id/audit", a.GetAuditTrail)
	return a.router
}

func NewAPI(j *junta.Junta) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("junta"))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	if conf.RateLimit.RequestsPerSecond != nil {
		r.Use(middleware.RateLimitMiddleware(conf))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{junta: j, router: r}
}

// apiError writes err with the HTTP status its error code maps to.
func apiError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
