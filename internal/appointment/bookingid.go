package appointment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// bookingIDAlphabet leaves out 0/O and 1/I so codes survive being read aloud
// or typed from a printout.
const bookingIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IDGenerator draws short human-typable booking ids and rejects ones already
// present in the store.
type IDGenerator struct {
	repo     Repository
	length   int
	attempts int
	draw     func(n int) (string, error)
}

func NewIDGenerator(repo Repository, length, attempts int) *IDGenerator {
	return &IDGenerator{
		repo:     repo,
		length:   length,
		attempts: attempts,
		draw:     randomCode,
	}
}

// Generate returns an id unknown to the store, or ErrGenerationExhausted once
// every attempt collided.
func (g *IDGenerator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code, err := g.draw(g.length)
		if err != nil {
			return "", fmt.Errorf("draw booking id: %w", err)
		}

		exists, err := g.repo.BookingIDExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check booking id: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrGenerationExhausted
}

func randomCode(n int) (string, error) {
	max := big.NewInt(int64(len(bookingIDAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = bookingIDAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// ValidBookingID reports whether s could have been produced by the generator.
func ValidBookingID(s string) bool {
	if len(s) < 6 || len(s) > 16 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
