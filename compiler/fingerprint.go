package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/karstdb/karst/query"
)

// Fingerprint returns a stable cache key for a descriptor compiled under
// the given dialect. Two descriptors with the same fingerprint compile to
// the same plan, so callers may reuse cached plans keyed by it. Struct
// fields encode in declaration order, so the msgpack payload is
// deterministic; hashing keeps keys fixed length regardless of
// descriptor size.
func Fingerprint(dialect string, desc *query.Descriptor) (string, error) {
	payload, err := msgpack.Marshal(struct {
		Dialect    string            `msgpack:"d"`
		Descriptor *query.Descriptor `msgpack:"q"`
	}{Dialect: dialect, Descriptor: desc})
	if err != nil {
		return "", fmt.Errorf("compiler: fingerprint descriptor: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
