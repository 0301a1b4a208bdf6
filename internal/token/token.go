// Package token mints short base-36 redemption codes.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
)

const (
	// DefaultLength is the width of a redemption token
	DefaultLength = 8
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Generator draws uniformly random tokens of a fixed width
type Generator struct {
	length int
	max    *big.Int
	rand   io.Reader
}

// NewGenerator returns a generator for tokens of the given width, using
// crypto/rand as the entropy source.
func NewGenerator(length int) (*Generator, error) {
	return newGenerator(length, rand.Reader)
}

func newGenerator(length int, r io.Reader) (*Generator, error) {
	if length < 1 || length > 12 {
		return nil, fmt.Errorf("token length %d out of range 1..12", length)
	}
	max := new(big.Int).Exp(big.NewInt(36), big.NewInt(int64(length)), nil)
	return &Generator{length: length, max: max, rand: r}, nil
}

// Next draws an integer from [0, 36^L) and encodes it zero-padded to L digits
func (g *Generator) Next() (string, error) {
	n, err := rand.Int(g.rand, g.max)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	s := strconv.FormatUint(n.Uint64(), 36)
	if pad := g.length - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}

// Valid reports whether s has the width and alphabet of a generated token
func (g *Generator) Valid(s string) bool {
	if len(s) != g.length {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}

// Normalize lower-cases and trims a scanned token
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
