// Package hashid computes the stable identity digests that drive
// scheduling and deduplication: urls_hash, criteria_hash, filter
// digests, and per-item update hashes.
package hashid

import (
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// Size is the digest length in bytes, matching blake3's default output.
const Size = 32

// Digest is a 32-byte identity fingerprint.
type Digest [Size]byte

// Zero is the all-zeros digest used as the filter digest when no
// filter is configured.
var Zero Digest

func sum(parts ...[]byte) Digest {
	h := blake3.New(Size, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// HashBytes hashes a single byte slice.
func HashBytes(b []byte) Digest {
	return sum(b)
}

// HashString hashes a UTF-8 string.
func HashString(s string) Digest {
	return sum([]byte(s))
}

// URLsHash computes H(H(url1) || H(url2) || ...) over urls in the
// given order. Re-ordering the list intentionally changes the result.
func URLsHash(urls []string) Digest {
	h := blake3.New(Size, nil)
	for _, u := range urls {
		d := HashString(u)
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// CriteriaHash computes H(urlsHash || H(key1) || H(key2) || ... || filterDigest).
func CriteriaHash(urlsHash Digest, updateKeys []string, filterDigest Digest) Digest {
	h := blake3.New(Size, nil)
	h.Write(urlsHash[:])
	for _, k := range updateKeys {
		d := HashString(k)
		h.Write(d[:])
	}
	h.Write(filterDigest[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// UpdateHash combines the per-key value digests of an item's
// update-key evaluation into one dedup key. Each key's value digest
// is hashed independently before combination to avoid concatenation
// ambiguity between distinct key sequences.
func UpdateHash(valueDigests []Digest) Digest {
	h := blake3.New(Size, nil)
	for _, d := range valueDigests {
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HashValue digests an arbitrary update-key evaluation result. Byte-like
// values (strings, []byte) are hashed directly; everything else is
// hashed via its string representation.
func HashValue(v any) Digest {
	switch t := v.(type) {
	case []byte:
		return HashBytes(t)
	case string:
		return HashString(t)
	default:
		return HashString(toString(v))
	}
}

func toString(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", v)
}

// SortedURLsHashDigest computes a digest over a sorted copy of the
// given urls_hash set, used by the failure tracker to detect changes
// in the failing-group set regardless of map iteration order.
func SortedURLsHashDigest(hashes []Digest) Digest {
	cp := make([]Digest, len(hashes))
	copy(cp, hashes)
	sort.Slice(cp, func(i, j int) bool {
		for k := 0; k < Size; k++ {
			if cp[i][k] != cp[j][k] {
				return cp[i][k] < cp[j][k]
			}
		}
		return false
	})
	h := blake3.New(Size, nil)
	for _, d := range cp {
		h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
