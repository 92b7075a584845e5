// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New generates a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "esc_", "wd_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// PaymentReference builds a checkout reference that doubles as the
// transaction idempotency key: PAY_<KIND>_<orderID>_<8 hex chars>.
// The random suffix keeps retried checkouts for the same order distinct.
func PaymentReference(orderKind, orderID string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("PAY_%s_%s_%s", strings.ToUpper(orderKind), orderID, hex.EncodeToString(b))
}
