package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// NewID returns a 24-char hex record identifier.
func NewID() string {
	return RandomHex(12)
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomBase36 returns n random characters from [0-9a-z].
func RandomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = '0'
			continue
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}
