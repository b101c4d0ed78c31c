// Package sharecode produces short human-shareable codes for finalized
// splits. The alphabet omits O, 0, I and 1 so codes survive being read
// aloud or copied by hand.
package sharecode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

// Alphabet is the set of characters codes are drawn from.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultLength is the code length used when none is configured.
const DefaultLength = 8

const maxAttempts = 10

// ErrExhausted is returned when every attempt produced a colliding code.
var ErrExhausted = errors.New("sharecode: could not produce a unique code")

// ExistsFunc reports whether a code is already taken.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator produces collision-checked codes from a cryptographically
// random source.
type Generator struct {
	Length  int
	Exists  ExistsFunc
	OnRetry func()
}

// New returns a code absent from the existing set, regenerating on
// collision up to a bounded number of attempts.
func (g Generator) New(ctx context.Context) (string, error) {
	length := g.Length
	if length <= 0 {
		length = DefaultLength
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := random(length)
		if err != nil {
			return "", err
		}
		if g.Exists == nil {
			return code, nil
		}
		taken, err := g.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("sharecode: existence check: %w", err)
		}
		if !taken {
			return code, nil
		}
		if g.OnRetry != nil {
			g.OnRetry()
		}
	}
	return "", ErrExhausted
}

func random(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("sharecode: read random bytes: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(out), nil
}
