package gateway

import "time"

// ErrorClass buckets gateway declines by how the retry schedule should treat
// them.
type ErrorClass string

const (
	ClassInsufficientFunds      ErrorClass = "insufficient_funds"
	ClassAuthenticationRequired ErrorClass = "authentication_required"
	ClassNonRetryable           ErrorClass = "non_retryable"
	ClassGeneric                ErrorClass = "generic"
)

// nonRetryableDeclines are declines where another attempt can never succeed
// and may draw issuer attention. The card holder has to act first.
var nonRetryableDeclines = map[string]bool{
	"fraudulent":         true,
	"lost_card":          true,
	"stolen_card":        true,
	"restricted_card":    true,
	"security_violation": true,
	"card_not_supported": true,
	"invalid_account":    true,
}

// retrySchedules hold the wait before attempt 2, 3, ... per error class.
// Insufficient funds gets long waits to ride out a payday; authentication
// gets short ones because the member is expected to respond to the challenge
// prompt.
var retrySchedules = map[ErrorClass][]time.Duration{
	ClassInsufficientFunds:      {24 * time.Hour, 48 * time.Hour, 72 * time.Hour},
	ClassAuthenticationRequired: {1 * time.Hour, 4 * time.Hour, 12 * time.Hour},
	ClassGeneric:                {6 * time.Hour, 24 * time.Hour, 48 * time.Hour},
}

// Classify maps a gateway decline code onto its retry class.
func Classify(declineCode string) ErrorClass {
	if nonRetryableDeclines[declineCode] {
		return ClassNonRetryable
	}
	switch declineCode {
	case "insufficient_funds":
		return ClassInsufficientFunds
	case "authentication_required":
		return ClassAuthenticationRequired
	}
	return ClassGeneric
}

// Retryable reports whether a decline with this code may be attempted again.
func Retryable(declineCode string) bool {
	return !nonRetryableDeclines[declineCode]
}

// NextRetryDelay returns the wait before the next attempt given the decline
// class and the number of attempts already made. A zero return means the
// schedule is exhausted and no retry should be planned.
func NextRetryDelay(class ErrorClass, attemptsMade int) time.Duration {
	schedule, ok := retrySchedules[class]
	if !ok || attemptsMade < 1 || attemptsMade > len(schedule) {
		return 0
	}
	return schedule[attemptsMade-1]
}
