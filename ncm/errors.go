package ncm

import (
	"errors"
	"fmt"
)

// Error kinds returned by the decoding pipeline. Every error returned by this
// package, apart from context cancellation, matches one of them with errors.Is.
var (
	ErrMalformedContainer = errors.New("malformed container")
	ErrCipher             = errors.New("cipher failure")
	ErrEncoding           = errors.New("encoding failure")
	ErrMetadata           = errors.New("invalid metadata")
	ErrIO                 = errors.New("i/o failure")
)

// ErrNotContainer is returned when the magic signature does not match.
var ErrNotContainer = fmt.Errorf("%w: not a valid container", ErrMalformedContainer)
