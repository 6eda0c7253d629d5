package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// CollectionIDFor derives the deterministic identity of a collection from its
// pool, round and member. Re-scheduling the same round can therefore never
// produce a second record for the same member: the identity collides and the
// insert is a no-op.
func CollectionIDFor(poolID string, round int, memberID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", poolID, round, memberID)))
	return "col_" + hex.EncodeToString(sum[:])[:16]
}

// IdempotencyKeyFor derives the gateway idempotency key for a charge attempt.
// It is a pure function of (collection, attempt number) so a replayed attempt
// presents the same key to the gateway even across process restarts.
func IdempotencyKeyFor(collectionID string, attempt int) string {
	return fmt.Sprintf("%s_attempt_%d", collectionID, attempt)
}
