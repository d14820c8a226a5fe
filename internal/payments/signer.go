package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signer computes and verifies the checksum redirect providers require on both
// the outbound initiation envelope and the inbound callback. Both directions
// use the same canonicalization so a signature produced here verifies there.
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer over the shared merchant secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign computes the hex HMAC-SHA256 of the payload.
func (s Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature against the payload in constant time.
func (s Signer) Verify(payload []byte, signature string) bool {
	expected := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// SignFields signs a flat field map using the canonical form: keys sorted
// ascending, joined as key=value pairs with '&'. The checksum field itself is
// excluded from the canonical string.
func (s Signer) SignFields(fields map[string]string, checksumField string) string {
	return s.Sign([]byte(CanonicalFields(fields, checksumField)))
}

// VerifyFields verifies an inbound callback checksum using the same
// canonicalization as SignFields.
func (s Signer) VerifyFields(fields map[string]string, checksumField, signature string) bool {
	return s.Verify([]byte(CanonicalFields(fields, checksumField)), signature)
}

// CanonicalFields renders the deterministic string form of a field map.
func CanonicalFields(fields map[string]string, exclude string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == exclude {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}
