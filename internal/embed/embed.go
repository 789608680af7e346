// Package embed maps chunk texts to fixed-dimension vectors via an
// external embedding service.
package embed

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Provider converts batches of texts into embedding vectors. The
// returned slice has the same order and length as the input.
// Implementations retain no state beyond the call apart from the lazily
// established dimensionality.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector dimensionality, or 0 before the
	// first successful call establishes it.
	Dimension() int
	Model() string
}

// Kind classifies an embedding failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindBadRequest
	KindRateLimit
	KindTimeout
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad request"
	case KindRateLimit:
		return "rate limit"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified embedding service failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embed %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure class is worth retrying.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

const (
	defaultMaxRetries = 5
	maxBackoff        = 30 * time.Second
)

// backoff returns the exponential backoff with full jitter for a retry
// attempt, capped at maxBackoff.
func backoff(attempt int) time.Duration {
	base := time.Second * time.Duration(uint(1)<<uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	return time.Duration(rand.Float64() * float64(base))
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
