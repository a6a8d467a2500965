package model

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds shared across the pipeline. Match with errors.Is / errors.As.
var (
	// ErrTransientFetch marks a network or upstream hiccup. The cycle is
	// skipped and retried at the next boundary.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrAuthExpired is a transient fetch error caused by rejected credentials.
	ErrAuthExpired = fmt.Errorf("auth expired: %w", ErrTransientFetch)

	// ErrDataGap means fetched bars are not contiguous with stored history.
	ErrDataGap = errors.New("data gap")

	// ErrDuplicateBar rejects a second bar for an existing period.
	ErrDuplicateBar = errors.New("duplicate bar")

	// ErrOutOfOrder rejects a bar older than the newest stored one.
	ErrOutOfOrder = errors.New("bar out of order")

	// ErrInvalidBar rejects malformed or misaligned bars.
	ErrInvalidBar = errors.New("invalid bar")

	// ErrPersistence wraps storage failures. In-memory state stays
	// authoritative for the running process.
	ErrPersistence = errors.New("persistence error")
)

// GapError describes a hole between stored history and new bars.
type GapError struct {
	Key      string
	Expected time.Time // next period start the series needs
	Got      time.Time // period start that arrived instead
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s: data gap: expected %s, got %s",
		e.Key, e.Expected.Format(time.RFC3339), e.Got.Format(time.RFC3339))
}

// Unwrap lets errors.Is(err, ErrDataGap) match.
func (e *GapError) Unwrap() error { return ErrDataGap }

// Missing returns how many periods of length tf are absent.
func (e *GapError) Missing(tf Timeframe) int {
	return int(e.Got.Sub(e.Expected) / tf.Duration())
}

func invalidBar(b Bar, reason string) error {
	return fmt.Errorf("%w: %s at %s", ErrInvalidBar, reason, b.PeriodStart.Format(time.RFC3339))
}
