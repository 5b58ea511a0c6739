package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for content-addressed firing keys. The version suffix
// leaves room for algorithm migration.
const domainFiring = "weave/firing/v1"

// FiringKey computes a stable identity for one guard firing: the guard's
// source event, the individual it fired against, and the value it
// produced. The dataflow engine uses it to keep a firing from repeating
// across fixpoint iterations and across rebuilds.
//
// Format: SHA256(domain + 0x00 + canonical-json). The null separator
// prevents domain/data boundary ambiguity.
func FiringKey(guardID, base string, value any) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"guard": guardID,
		"base":  base,
		"value": value,
	})
	if err != nil {
		return "", fmt.Errorf("firing key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domainFiring))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
