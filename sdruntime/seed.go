package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
)

// MaxSeed is the largest seed accepted by the API.
const MaxSeed = 1<<31 - 1

// RandomSeed returns a seed in [0, MaxSeed] from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) % (MaxSeed + 1))
}

// ResolveSeed returns seed unless it is negative, in which case a random
// seed is drawn.
func ResolveSeed(seed int64) int64 {
	if seed < 0 {
		return RandomSeed()
	}
	return seed
}
