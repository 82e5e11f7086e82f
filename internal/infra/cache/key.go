package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// NormalizeQuery lower-cases and trims so that trivially different spellings
// of the same request share an entry.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// GenerateCacheKey returns "{endpoint}:{sha256(session, query)}", or just the
// hash when no endpoint is given.
func GenerateCacheKey(sessionID, query, endpoint string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + NormalizeQuery(query)))
	h := hex.EncodeToString(sum[:])
	if endpoint == "" {
		return h
	}
	return endpoint + ":" + h
}

func sessionDigest(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}

// TTLPolicy picks the entry lifetime per endpoint. Exact names win over
// prefix patterns ("report*"); among prefixes the longest wins.
type TTLPolicy struct {
	Default   time.Duration
	Endpoints map[string]time.Duration
}

func (p TTLPolicy) For(endpoint string) time.Duration {
	if d, ok := p.Endpoints[endpoint]; ok && !strings.HasSuffix(endpoint, "*") {
		return d
	}
	best, bestLen := p.Default, -1
	for pattern, d := range p.Endpoints {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok || !strings.HasPrefix(endpoint, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = d, len(prefix)
		}
	}
	return best
}
