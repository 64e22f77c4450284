package domain

import (
	"time"
)

const (
	// IDLength and KeyLength are fixed by the public API: identifiers are
	// 24 base62 characters, deletion keys 16.
	IDLength  = 24
	KeyLength = 16
)

// PasteRecord is the per-paste bookkeeping row. Content lives in the
// content store and is never carried here.
type PasteRecord struct {
	ID        string    `json:"id"`
	Key       string    `json:"-"`
	TTL       int64     `json:"ttl"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt is the instant after which the record is eligible for sweeping.
func (r *PasteRecord) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TTL) * time.Second)
}

// Expired reports whether the record is past its TTL at the given instant.
func (r *PasteRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// CreateResult is what a successful upload hands back to the client. Key is
// the deletion capability and is returned exactly once, here.
type CreateResult struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	TTL  int64  `json:"ttl"`
	Link string `json:"link"`
}

func validBase62(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// ValidID reports whether s is a syntactically valid paste ID. Callers
// reject invalid IDs before touching any store.
func ValidID(s string) bool {
	return len(s) == IDLength && validBase62(s)
}

// ValidKey reports whether s has the shape of a deletion key. Syntax check
// only, never an authorization decision.
func ValidKey(s string) bool {
	return len(s) == KeyLength && validBase62(s)
}
