package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content digests. The version suffix allows the
// encoding to change without colliding with old digests.
const (
	DomainTrace   = "bpflow/trace/v1"
	DomainPayload = "bpflow/payload/v1"
)

// hashWithDomain returns hex(SHA256(domain + 0x00 + data)). The separator
// keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadDigest returns the content digest of a payload that converts with
// FromAny.
func PayloadDigest(payload any) (string, error) {
	v, err := FromAny(payload)
	if err != nil {
		return "", err
	}
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainPayload, data), nil
}
