// Package acl is the per-file, per-user access-control store. One
// capability interface covers both the in-process store and the
// external contract-gateway backend, so callers stay backend-agnostic.
package acl

import (
	"errors"
	"time"
)

var (
	// ErrNotOwner means the caller does not own the file it tried to
	// grant or revoke access to.
	ErrNotOwner = errors.New("acl: caller is not the file owner")

	// ErrUnknownFile means no owner has been registered for the file.
	ErrUnknownFile = errors.New("acl: unknown file")
)

// Grant authorizes a grantee to access a file. A zero Expiry never
// expires; an empty device list means any device may exercise the
// grant. Revoked grants are kept as historical records.
type Grant struct {
	FileID   string   `json:"file_id"`
	Owner    string   `json:"owner"`
	Grantee  string   `json:"user"`
	Allowed  bool     `json:"allowed"`
	Expiry   int64    `json:"expiry"`
	Devices  []string `json:"devices"`
	Revoked  bool     `json:"revoked"`
	Modified int64    `json:"modified"`
}

// Store is the access-control capability. Implementations: LocalStore
// (in-process, badger persisted) and ContractStore (external
// contract-gateway service).
type Store interface {
	// SetOwner registers the file's owner. Called once at upload time.
	SetOwner(fileID, owner string) error

	// Grant upserts access for grantee. Fails with ErrNotOwner unless
	// caller owns the file. A non-empty device list replaces any prior
	// list wholesale.
	Grant(fileID, caller, grantee string, expiry int64, deviceIDs []string) (Grant, error)

	// Revoke disables the grant, clearing expiry and device list but
	// preserving the record for audit. Fails with ErrNotOwner unless
	// caller owns the file.
	Revoke(fileID, caller, grantee string) error

	// IsAllowed evaluates the access predicate for (file, user, device).
	// Missing grants, disallowed or revoked grants, expired grants, and
	// devices outside a non-empty allow-list all evaluate to false.
	IsAllowed(fileID, user, deviceID string) (bool, error)
}

// Clock abstracts time for testability.
type Clock interface { // A
	Now() time.Time
}

type realClock struct{} // A

// Now returns the current time.
func (realClock) Now() time.Time { // A
	return time.Now()
}
