// Package keygen derives Cliperton license keys. Keys have the shape
// CLIP-XXXX-XXXX-XXXX where each group is four uppercase hex characters taken
// from a SHA-256 digest over the purchaser email, the issuance timestamp, and
// a server-held secret salt. Derivation is deterministic for identical inputs
// and the salt is not recoverable from a key.
package keygen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the constant leading segment of every license key.
const Prefix = "CLIP"

// keyRE matches the exact external key format. Groups accept the full
// uppercase alphanumeric range even though derived keys only ever contain
// hex characters; the format gate must not reject keys on a property the
// published format string does not promise.
var keyRE = regexp.MustCompile(`^CLIP-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Derive computes the license key for email issued at the given Unix time.
// The secret is process configuration; callers are responsible for rejecting
// an empty secret before issuing keys (see config validation).
func Derive(email string, issuedAtUnix int64, secret string) string {
	sum := sha256.Sum256([]byte(email + strconv.FormatInt(issuedAtUnix, 10) + secret))
	hexed := strings.ToUpper(hex.EncodeToString(sum[:]))
	return fmt.Sprintf("%s-%s-%s-%s", Prefix, hexed[0:4], hexed[4:8], hexed[8:12])
}

// ValidFormat reports whether s matches the exact license key format.
// It performs no lookup; it is the cheap gate run before any store access.
func ValidFormat(s string) bool {
	return keyRE.MatchString(s)
}
