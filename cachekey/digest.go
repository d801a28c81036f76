package cachekey

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Digest turns the concatenated context identities into a fixed length key.
type Digest interface {
	Sum(data string) string
}

// DigestFunc adapts a function to Digest.
type DigestFunc func(data string) string

func (f DigestFunc) Sum(data string) string {
	return f(data)
}

// MD5 renders the 128 bit MD5 digest as 32 hex characters.
func MD5() Digest {
	return DigestFunc(func(data string) string {
		sum := md5.Sum([]byte(data))
		return hex.EncodeToString(sum[:])
	})
}

// XXHash renders the 64 bit xxhash digest as 16 hex characters. It is faster
// than MD5 but collides more often; collisions are still resolved by MakeUnique.
func XXHash() Digest {
	return DigestFunc(func(data string) string {
		s := strconv.FormatUint(xxhash.Sum64String(data), 16)
		for len(s) < 16 {
			s = "0" + s
		}
		return s
	})
}

// DigestByName returns the digest for a configuration name, defaulting to MD5.
func DigestByName(name string) (Digest, bool) {
	switch name {
	case "", "md5":
		return MD5(), true
	case "xxhash":
		return XXHash(), true
	}
	return nil, false
}
