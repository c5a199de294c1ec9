// Fingerprinting turns (source_id, Request) into a stable cache key.
//
// Grounded on the teacher's pkg/utils/hash.go: FNV-1a 64-bit is already the
// pack's hash of choice for cache/routing keys (used there for a consistent
// hash ring), so the same primitive is reused here for fingerprinting.
// Canonicalization follows pkg/utils/encoding.go's "pick one deterministic
// representation, hash it" shape.
package cache

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// fingerprintPrefix matches the "cache:" prefix required by spec.md §4.1.
const fingerprintPrefix = "cache:"

// Fingerprint computes the deterministic cache key for a request tagged
// with sourceID. Two requests that differ only in attribute-map ordering
// or carry otherwise-equivalent index attributes share a fingerprint,
// because attributes are never hashed. Two requests differing in page
// bounds never share one, because the page component is always hashed.
func Fingerprint(sourceID string, req Request) string {
	var b strings.Builder
	b.WriteString(sourceID)
	b.WriteByte('\x00')
	writeCodes(&b, req.Codes)
	b.WriteByte('\x00')
	writeIndexes(&b, req.Indexes)
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "p%ds%d", req.Page.Begin, req.Page.Size)

	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return fingerprintPrefix + strconv.FormatUint(h.Sum64(), 16)
}

// writeCodes canonicalizes codes: group order is preserved, values within
// a group are joined by "," in input order, groups are joined by ";".
func writeCodes(b *strings.Builder, codes []CodeSelector) {
	for i, c := range codes {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(c.Type)
		b.WriteByte(':')
		b.WriteString(strings.Join(c.Values, ","))
	}
}

// writeIndexes canonicalizes indexes: each entry serializes as
// index_id[:time_type][:timestamp], entries joined by "|". Attributes are
// deliberately excluded — they are presentation hints, not part of identity.
func writeIndexes(b *strings.Builder, indexes []IndexSelector) {
	for i, idx := range indexes {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(idx.IndexID)
		if idx.TimeType != "" {
			b.WriteByte(':')
			b.WriteString(idx.TimeType)
		}
		if idx.Timestamp != nil {
			b.WriteByte(':')
			b.WriteString(idx.Timestamp.UTC().Format("20060102T150405.000000000"))
		}
	}
}
