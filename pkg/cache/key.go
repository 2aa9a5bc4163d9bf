// Package cache implements the three-tier query cache (C6): hot and warm
// in-memory LRU tiers plus a persistent cold tier, with promotion,
// eviction cascade, TTL expiry and coarse clear-on-mutation invalidation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Key derives the deterministic cache key for a query descriptor: the
// descriptor is canonicalized (object keys sorted so logically equivalent
// queries collide) and hashed, truncated to 16 hex characters.
func Key(descriptor map[string]interface{}) string {
	canonical := canonicalize(descriptor)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

func canonicalize(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := "{"
		for i, k := range keys {
			if i > 0 {
				buf += ","
			}
			kb, _ := json.Marshal(k)
			buf += string(kb) + ":" + canonicalize(t[k])
		}
		return buf + "}"
	case []interface{}:
		buf := "["
		for i, e := range t {
			if i > 0 {
				buf += ","
			}
			buf += canonicalize(e)
		}
		return buf + "]"
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
