package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

// Identity computes the deterministic 256-bit entity identity over the tuple
// (kind, absolute file path, qualified name, start line, end line). Fields
// are length-prefixed so the serialization is unambiguous: no separator
// choice can make two distinct tuples collide.
func Identity(kind EntityKind, absPath, qualifiedName string, startLine, endLine int) string {
	h := sha256.New()
	writeField(h, string(kind))
	writeField(h, absPath)
	writeField(h, qualifiedName)
	writeField(h, fmt.Sprintf("%d", startLine))
	writeField(h, fmt.Sprintf("%d", endLine))
	return hex.EncodeToString(h.Sum(nil))
}

// ExternalIdentity computes the identity of an External placeholder from its
// canonical (sanitized) name alone, so references from different files
// collapse onto one node.
func ExternalIdentity(name string) string {
	h := sha256.New()
	writeField(h, string(KindExternal))
	writeField(h, name)
	return hex.EncodeToString(h.Sum(nil))
}

type fieldWriter interface {
	Write(p []byte) (int, error)
}

func writeField(h fieldWriter, field string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(field)))
	h.Write(n[:])
	h.Write([]byte(field))
}

// maxExternalName caps the stored length of External names. Generated names
// (long method-chain receivers) can run to kilobytes; the cap bounds ID size
// while the hash suffix preserves uniqueness. A sanitized name is at most
// maxSanitizedName characters: an 88-char prefix, the "..." marker, and 8
// hex digits of the full name's hash.
const (
	maxExternalName   = 90
	externalPrefixLen = 88
	externalSuffixLen = 8
	maxSanitizedName  = externalPrefixLen + 3 + externalSuffixLen // 99
)

// sanitizedSuffixRe recognizes an already-sanitized name, so sanitization
// is a fixed point: re-sanitizing never re-truncates or re-hashes.
var sanitizedSuffixRe = regexp.MustCompile(`\.\.\.[0-9a-f]{8}$`)

// SanitizeExternalName bounds an External entity name to maxSanitizedName
// characters. Over-long names keep a meaningful prefix (trimmed back to the
// last dot inside the final 10 characters when one is present) and gain the
// "..." marker plus the hash suffix.
func SanitizeExternalName(name string) string {
	if name == "" {
		return "unknown"
	}
	if len(name) <= maxExternalName {
		return name
	}
	if len(name) <= maxSanitizedName && sanitizedSuffixRe.MatchString(name) {
		return name
	}
	suffix := fmt.Sprintf("%08x", uint32(xxh3.HashString(name)))
	truncated := name[:externalPrefixLen]
	if idx := strings.LastIndex(truncated[externalPrefixLen-10:], "."); idx >= 0 {
		truncated = truncated[:externalPrefixLen-10+idx]
	}
	return truncated + "..." + suffix
}

// NewExternal interns a reference to a symbol declared outside the project.
func NewExternal(rawName string) *Entity {
	name := SanitizeExternalName(rawName)
	return &Entity{
		ID:            ExternalIdentity(name),
		Kind:          KindExternal,
		Name:          name,
		QualifiedName: name,
	}
}
