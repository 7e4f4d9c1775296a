package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Domain prefixes for derived identities.
// Version suffix enables future algorithm migration.
const (
	DomainScope = "repokit/scope/v1"
	DomainShape = "repokit/shape/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ScopeKey identifies an include scope by its position in the plan tree:
// the parent's key, the sibling index and the relation name. Two includes of
// the same relation under different parents, or twice under the same parent,
// get different keys.
func ScopeKey(parentKey string, index int, relation string) string {
	return parentKey + "/" + strconv.Itoa(index) + ":" + relation
}

// ScopeHash returns the hex digest of a scope key.
func ScopeHash(parentKey string, index int, relation string) string {
	return hashWithDomain(DomainScope, []byte(ScopeKey(parentKey, index, relation)))
}

// ShapeHash returns the hex digest of canonical bytes produced for a plan shape.
func ShapeHash(canonical []byte) string {
	return hashWithDomain(DomainShape, canonical)
}
