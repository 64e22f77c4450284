package util

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"stashbin/pkg/domain"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randomBase62 draws n characters uniformly from the base62 alphabet using
// rejection sampling; 248 is the largest multiple of 62 below 256, so bytes
// at or above it would bias the low symbols and are discarded.
func randomBase62(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, base62Chars[b%62])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateID returns a probably-unique 24 character paste ID. Uniqueness is
// probabilistic only; callers that need a guarantee use GenUniqueID.
func GenerateID() (string, error) {
	return randomBase62(domain.IDLength)
}

// GenerateKey returns a fresh 16 character deletion key.
func GenerateKey() (string, error) {
	return randomBase62(domain.KeyLength)
}

// GenUniqueID generates IDs until exists reports a free one, retrying a
// bounded number of times before giving up with ErrIDGenerationFailed. An
// error from exists is returned as is, so a storage outage keeps its own
// error mapping instead of masquerading as a generation failure.
func GenUniqueID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < 5; retry++ {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.Wrap(domain.ErrIDGenerationFailed, "id collision after 5 retries")
}
