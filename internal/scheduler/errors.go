package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a tile batch names an image whose
	// metadata is not in the cache.
	ErrNotFound = errors.New("image metadata not found")

	// ErrCancelled rejects requests removed from the queue or aborted
	// between tiles.
	ErrCancelled = errors.New("request cancelled")

	// ErrClosed is returned by submissions after Close. Requests still
	// queued at Close are rejected with both ErrCancelled and ErrClosed.
	ErrClosed = errors.New("scheduler closed")

	// ErrQueueFull is returned when a bounded queue is at capacity.
	ErrQueueFull = errors.New("request queue full")
)

// GeneratorError wraps a failure reported by the image generator.
type GeneratorError struct {
	Op   string // "process", "decode" or "tile"
	Hash string
	Err  error
}

func (e *GeneratorError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("generator %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("generator %s %s: %v", e.Op, e.Hash, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

// ErrorClass is the coarse category of a request failure.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNotFound
	ClassCancelled
	ClassGeneratorFailure
	ClassUnknown
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "ok"
	case ClassNotFound:
		return "not_found"
	case ClassCancelled:
		return "cancelled"
	case ClassGeneratorFailure:
		return "generator_failure"
	default:
		return "unknown"
	}
}

// Classify maps err onto an ErrorClass. A nil error is ClassNone.
func Classify(err error) ErrorClass {
	var genErr *GeneratorError
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCancelled):
		return ClassCancelled
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.As(err, &genErr):
		return ClassGeneratorFailure
	default:
		return ClassUnknown
	}
}
