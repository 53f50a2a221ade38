// Package seed derives the integer seeds passed to the generation API.
//
// Seeds make generation reproducible: the same prompt and seed yield the same
// image, and iterating on a result explores seeds near the original instead of
// unrelated ones.
package seed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
)

// DefaultTemperature is the blend factor used when iterating on a result.
const DefaultTemperature = 0.1

// uniqueRange bounds the random offset added to a prompt's base seed.
const uniqueRange = 1_000_000

// Base hashes prompt into a non-negative seed. It is a rolling
// multiply-by-31 hash over UTF-16 code units with 32-bit signed wraparound;
// the absolute value of the accumulator is returned.
func Base(prompt string) int64 {
	var h int32
	for _, u := range utf16.Encode([]rune(prompt)) {
		h = h*31 + int32(u)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// Iteration derives the seed for the index-th variant of a result generated
// with seed. temperature is clamped to [0, 1]: 0 returns seed unchanged and 1
// returns a value that depends only on the hash of "seed-index".
func Iteration(seed int64, index int, temperature float64) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", seed, index)))
	// The first 8 hex characters are the first 4 bytes.
	hashSeed, _ := strconv.ParseUint(hex.EncodeToString(sum[:4]), 16, 32)

	t := math.Max(0, math.Min(1, temperature))
	if math.IsNaN(temperature) {
		t = 0
	}
	return int64(math.Floor(float64(seed)*(1-t) + float64(hashSeed)*t))
}

// Unique returns a fresh seed for prompt: its base seed plus a random offset
// drawn from rnd, which must return a value in [0, n).
func Unique(prompt string, rnd func(n int64) int64) int64 {
	return Base(prompt) + rnd(uniqueRange)
}
