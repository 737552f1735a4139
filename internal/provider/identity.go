package provider

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// contentHashLen is the number of hex characters kept from the SHA-256 digest.
const contentHashLen = 32

// NaturalSourceID builds the dedup key for a structured record:
// "{source}_{natural_id}" when the id field resolves to a non-blank scalar,
// otherwise "{source}_{content hash}".
func NaturalSourceID(source string, rec any, idPath string) string {
	if idPath != "" {
		if v, ok := LookupField(rec, idPath); ok {
			if id, ok := Text(v); ok {
				return source + "_" + id
			}
		}
	}
	return source + "_" + ContentHash(rec)
}

// ContentHash digests the canonical JSON form of a raw record. Map keys are
// emitted sorted, so the same record always hashes the same regardless of
// upstream key order.
func ContentHash(rec any) string {
	b, err := json.Marshal(rec)
	if err != nil {
		// Unmarshalable values only come from hand-built records; hash their
		// printed form instead.
		b = []byte(fmt.Sprintf("%#v", rec))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:contentHashLen]
}

// URLSourceID builds the dedup key for a URL-keyed article:
// "{prefix}_{md5(canonical url)}". A blank URL falls back to the content
// hash of the record.
func URLSourceID(prefix, rawURL string, rec any) string {
	canon := CanonicalURL(rawURL)
	if canon == "" {
		return prefix + "_" + ContentHash(rec)
	}
	sum := md5.Sum([]byte(canon))
	return prefix + "_" + hex.EncodeToString(sum[:])
}

// CanonicalURL trims a link, lowercases its scheme and host, and drops the
// fragment. Unparseable input is returned trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
