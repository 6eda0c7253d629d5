package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/juntapay/junta/config"
)

func testClient() *Client {
	return NewClient(config.GatewayConfig{
		Endpoint:      "https://gateway.test",
		SecretKey:     "sk_test",
		TimeoutSec:    5,
		MaxElapsedSec: 1,
	})
}

func TestChargeOffSession_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var seenKey, seenAuth string
	httpmock.RegisterResponder("POST", "https://gateway.test/v1/charges",
		func(req *http.Request) (*http.Response, error) {
			seenKey = req.Header.Get("Idempotency-Key")
			seenAuth = req.Header.Get("Authorization")
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"reference": "ch_123",
				"status":    "succeeded",
			})
		})

	result, err := testClient().ChargeOffSession(context.Background(), ChargeRequest{
		IdempotencyKey: "col_abc_attempt_1",
		CustomerRef:    "cus_1",
		MethodRef:      "pm_1",
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
	})
	assert.NoError(t, err)
	assert.Equal(t, "ch_123", result.Reference)
	assert.Equal(t, "succeeded", result.Status)
	assert.Equal(t, "col_abc_attempt_1", seenKey)
	assert.Equal(t, "Bearer sk_test", seenAuth)
}

func TestChargeOffSession_DeclineIsNotRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://gateway.test/v1/charges",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(402, map[string]interface{}{
				"error": map[string]interface{}{
					"code":         "card_declined",
					"decline_code": "insufficient_funds",
					"message":      "Your card has insufficient funds.",
				},
			})
		})

	_, err := testClient().ChargeOffSession(context.Background(), ChargeRequest{
		IdempotencyKey: "col_abc_attempt_1",
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
	})
	assert.Error(t, err)

	declineErr, ok := err.(*DeclineError)
	assert.True(t, ok)
	assert.Equal(t, "insufficient_funds", declineErr.DeclineCode)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "declines must not be retried at the transport level")
}

func TestChargeOffSession_ServerErrorRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "https://gateway.test/v1/charges",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewJsonResponse(503, map[string]interface{}{})
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"reference": "ch_456",
				"status":    "succeeded",
			})
		})

	result, err := testClient().ChargeOffSession(context.Background(), ChargeRequest{
		IdempotencyKey: "col_abc_attempt_2",
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
	})
	assert.NoError(t, err)
	assert.Equal(t, "ch_456", result.Reference)
	assert.GreaterOrEqual(t, calls, 2)
}

func TestPayout_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://gateway.test/v1/payouts",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"reference": "po_789",
			"status":    "paid",
		}))

	result, err := testClient().Payout(context.Background(), PayoutRequest{
		IdempotencyKey: "ent_1",
		RecipientRef:   "acct_1",
		Amount:         decimal.NewFromInt(400),
		Currency:       "USD",
	})
	assert.NoError(t, err)
	assert.Equal(t, "po_789", result.Reference)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		declineCode string
		class       ErrorClass
		retryable   bool
	}{
		{"insufficient_funds", ClassInsufficientFunds, true},
		{"authentication_required", ClassAuthenticationRequired, true},
		{"fraudulent", ClassNonRetryable, false},
		{"lost_card", ClassNonRetryable, false},
		{"stolen_card", ClassNonRetryable, false},
		{"restricted_card", ClassNonRetryable, false},
		{"security_violation", ClassNonRetryable, false},
		{"card_not_supported", ClassNonRetryable, false},
		{"invalid_account", ClassNonRetryable, false},
		{"do_not_honor", ClassGeneric, true},
		{"", ClassGeneric, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, Classify(tt.declineCode), tt.declineCode)
		assert.Equal(t, tt.retryable, Retryable(tt.declineCode), tt.declineCode)
	}
}

func TestNextRetryDelay(t *testing.T) {
	assert.Equal(t, 24*time.Hour, NextRetryDelay(ClassInsufficientFunds, 1))
	assert.Equal(t, 48*time.Hour, NextRetryDelay(ClassInsufficientFunds, 2))
	assert.Equal(t, 72*time.Hour, NextRetryDelay(ClassInsufficientFunds, 3))
	assert.Equal(t, time.Hour, NextRetryDelay(ClassAuthenticationRequired, 1))
	assert.Equal(t, 6*time.Hour, NextRetryDelay(ClassGeneric, 1))

	// Exhausted or unknown schedules plan no retry.
	assert.Equal(t, time.Duration(0), NextRetryDelay(ClassInsufficientFunds, 4))
	assert.Equal(t, time.Duration(0), NextRetryDelay(ClassNonRetryable, 1))
	assert.Equal(t, time.Duration(0), NextRetryDelay(ClassGeneric, 0))
}
