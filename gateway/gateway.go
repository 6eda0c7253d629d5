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

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/internal/request"
)

// Gateway is the payment provider surface the processor and settlement
// coordinator depend on. Implementations must honor idempotency keys: the
// same key presented twice returns the original result instead of moving
// money again.
type Gateway interface {
	ChargeOffSession(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}

type ChargeRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	CustomerRef    string          `json:"customer_ref"`
	MethodRef      string          `json:"method_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
}

type ChargeResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type PayoutRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	RecipientRef   string          `json:"recipient_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description,omitempty"`
}

type PayoutResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// DeclineError is a definitive refusal from the provider. It is not a
// transport failure: the request reached the provider and was turned down.
type DeclineError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("gateway declined (%s/%s): %s", e.Code, e.DeclineCode, e.Message)
}

// Client talks to the payment provider over HTTP. Transport-level failures
// are retried with exponential backoff; provider declines are returned as
// DeclineError without retrying, since the retry schedule for declines
// belongs to the processor.
type Client struct {
	endpoint   string
	secretKey  string
	timeout    time.Duration
	maxElapsed time.Duration
}

func NewClient(conf config.GatewayConfig) *Client {
	return &Client{
		endpoint:   conf.Endpoint,
		secretKey:  conf.SecretKey,
		timeout:    time.Duration(conf.TimeoutSec) * time.Second,
		maxElapsed: time.Duration(conf.MaxElapsedSec) * time.Second,
	}
}

func (c *Client) ChargeOffSession(ctx context.Context, chargeReq ChargeRequest) (*ChargeResult, error) {
	var result ChargeResult
	err := c.post(ctx, "/v1/charges", chargeReq.IdempotencyKey, chargeReq, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Payout(ctx context.Context, payoutReq PayoutRequest) (*PayoutResult, error) {
	var result PayoutResult
	err := c.post(ctx, "/v1/payouts", payoutReq.IdempotencyKey, payoutReq, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type gatewayResponse struct {
	Reference string        `json:"reference"`
	Status    string        `json:"status"`
	Error     *DeclineError `json:"error,omitempty"`
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out interface{}) error {
	operation := func() error {
		body, err := request.ToJsonReq(payload)
		if err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Idempotency-Key", idempotencyKey)

		var gwResp gatewayResponse
		resp, err := request.Call(req, &gwResp)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Warn("gateway request failed, will retry")
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			// Provider-side trouble is retryable at the transport level.
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			if gwResp.Error != nil {
				return backoff.Permanent(gwResp.Error)
			}
			return backoff.Permanent(&DeclineError{Code: "request_failed", Message: fmt.Sprintf("gateway returned %d", resp.StatusCode)})
		}

		switch v := out.(type) {
		case *ChargeResult:
			v.Reference = gwResp.Reference
			v.Status = gwResp.Status
		case *PayoutResult:
			v.Reference = gwResp.Reference
			v.Status = gwResp.Status
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
