package memory

import (
	"errors"
	"fmt"
)

// Tier names one of the four memory tiers in errors and statistics.
type Tier string

const (
	TierShortTerm  Tier = "short_term"
	TierEpisodic   Tier = "episodic"
	TierSemantic   Tier = "semantic"
	TierProcedural Tier = "procedural"
)

// ErrInvalidInput marks malformed caller input: empty message content, an
// unknown role, a missing session or user id.
var ErrInvalidInput = errors.New("invalid input")

// RetrievalError reports that one tier's read failed unexpectedly. The
// coordinator swallows these per tier — an empty result is not an error.
type RetrievalError struct {
	Tier Tier
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("memory retrieval failed for tier %s: %v", e.Tier, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// WriteError reports that one tier's write was refused or partially applied.
// Unlike retrieval, write errors always surface to the caller.
type WriteError struct {
	Tier Tier
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("memory write failed for tier %s: %v", e.Tier, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// retrievalErr wraps err for a tier unless it is nil.
func retrievalErr(tier Tier, err error) error {
	if err == nil {
		return nil
	}
	return &RetrievalError{Tier: tier, Err: err}
}

// writeErr wraps err for a tier unless it is nil.
func writeErr(tier Tier, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Tier: tier, Err: err}
}
