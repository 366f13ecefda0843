// Package ledger implements the per-user append-only hash chain that
// stores encrypted key material for uploaded files. Each user owns
// exactly one chain and is its sole writer; chains are never deleted,
// only extended.
package ledger

import "errors"

var (
	// ErrAppendConflict means the caller appended against a stale tip.
	// The caller may retry with a fresh tip.
	ErrAppendConflict = errors.New("ledger: append conflict, tip has moved")

	// ErrNotFound means no block exists for the requested file.
	ErrNotFound = errors.New("ledger: block not found")

	// ErrCorruptChain means the chain failed validation. All reads for
	// files in the chain fail closed until the chain is repaired out of
	// band.
	ErrCorruptChain = errors.New("ledger: chain failed validation")
)
