package blockchain

import (
	"errors"
	"fmt"
)

// Rejection taxonomy. Every RejectionError unwraps to exactly one of these.
var (
	ErrStructure    = errors.New("malformed block")
	ErrLinkage      = errors.New("block does not extend predecessor")
	ErrHashMismatch = errors.New("block hash mismatch")
	ErrProofOfWork  = errors.New("insufficient proof of work")
)

// Check identifies the validation step that rejected a block.
type Check string

const (
	CheckStructure    Check = "structure"
	CheckIndex        Check = "index"
	CheckPreviousHash Check = "previous_hash"
	CheckHash         Check = "hash"
	CheckProofOfWork  Check = "proof_of_work"
)

func (c Check) String() string { return string(c) }

// Kind returns the taxonomy sentinel for c.
func (c Check) Kind() error {
	switch c {
	case CheckStructure:
		return ErrStructure
	case CheckIndex, CheckPreviousHash:
		return ErrLinkage
	case CheckHash:
		return ErrHashMismatch
	case CheckProofOfWork:
		return ErrProofOfWork
	default:
		return ErrStructure
	}
}

// RejectionError reports the first validation check a block failed.
type RejectionError struct {
	Check  Check
	Index  uint64
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("block %d rejected: %s: %s", e.Index, e.Check, e.Detail)
}

func (e *RejectionError) Unwrap() error { return e.Check.Kind() }

func reject(c Check, index uint64, format string, args ...any) *RejectionError {
	return &RejectionError{Check: c, Index: index, Detail: fmt.Sprintf(format, args...)}
}

// CheckOf extracts the failed check from err, if err carries a RejectionError.
func CheckOf(err error) (Check, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Check, true
	}
	return "", false
}
