package keygen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
)

func TestDerive_FormatAndDeterminism(t *testing.T) {
	k1 := Derive("buyer@example.com", 1700000000, "salt")
	k2 := Derive("buyer@example.com", 1700000000, "salt")
	if k1 != k2 {
		t.Fatalf("Derive must be deterministic: %q vs %q", k1, k2)
	}
	if !ValidFormat(k1) {
		t.Fatalf("derived key fails format check: %q", k1)
	}
	if !strings.HasPrefix(k1, Prefix+"-") {
		t.Fatalf("derived key missing prefix: %q", k1)
	}
	if len(k1) != 19 {
		t.Fatalf("derived key length = %d, want 19", len(k1))
	}
}

func TestDerive_MatchesDigestPrefix(t *testing.T) {
	email, ts, secret := "a@b.com", int64(1712345678), "s3cret"
	sum := sha256.Sum256([]byte("a@b.com" + "1712345678" + secret))
	hexed := strings.ToUpper(hex.EncodeToString(sum[:]))
	want := Prefix + "-" + hexed[0:4] + "-" + hexed[4:8] + "-" + hexed[8:12]
	if got := Derive(email, ts, secret); got != want {
		t.Fatalf("Derive = %q, want %q", got, want)
	}
}

func TestDerive_SensitiveToEachInput(t *testing.T) {
	base := Derive("buyer@example.com", 1700000000, "salt")
	if Derive("other@example.com", 1700000000, "salt") == base {
		t.Fatalf("key must change with email")
	}
	if Derive("buyer@example.com", 1700000001, "salt") == base {
		t.Fatalf("key must change with timestamp")
	}
	if Derive("buyer@example.com", 1700000000, "pepper") == base {
		t.Fatalf("key must change with secret")
	}
}

func TestDerive_DistinctInputsDistinctKeys(t *testing.T) {
	// 10k distinct (email, timestamp) pairs must yield 10k well-formed keys
	// with no collisions.
	seen := make(map[string]string, 10000)
	for i := 0; i < 100; i++ {
		email := fmt.Sprintf("buyer%03d@example.com", i)
		for j := 0; j < 100; j++ {
			ts := int64(1700000000 + j)
			k := Derive(email, ts, "salt")
			if !ValidFormat(k) {
				t.Fatalf("Derive(%q, %d) = %q fails format check", email, ts, k)
			}
			pair := fmt.Sprintf("%s/%d", email, ts)
			if prev, dup := seen[k]; dup {
				t.Fatalf("collision: %q produced by %s and %s", k, prev, pair)
			}
			seen[k] = pair
		}
	}
}

func TestValidFormat(t *testing.T) {
	valid := []string{
		"CLIP-ABCD-1234-EF09",
		"CLIP-0000-0000-0000",
		"CLIP-ZZZZ-ZZZZ-ZZZZ", // full uppercase alphanumeric range is allowed
	}
	for _, s := range valid {
		if !ValidFormat(s) {
			t.Errorf("ValidFormat(%q) = false, want true", s)
		}
	}
	invalid := []string{
		"",
		"CLIP-abcd-1234-ef09",      // lowercase
		"clip-ABCD-1234-EF09",      // lowercase prefix
		"CLIP-ABCD-1234",           // short
		"CLIP-ABCD-1234-EF09-0000", // long
		"CLIPABCD1234EF09",         // no dashes
		" CLIP-ABCD-1234-EF09",     // leading space
		"CLIP-ABCD-1234-EF0!",      // punctuation
	}
	for _, s := range invalid {
		if ValidFormat(s) {
			t.Errorf("ValidFormat(%q) = true, want false", s)
		}
	}
}
