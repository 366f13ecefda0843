// Package auth verifies signed download requests. A request is bound
// to a registered device key: the canonical message
// "{fileId}:{userId}:{timestamp}" must carry a valid ed25519 signature
// from the device's registered public key, inside a fixed replay
// window, and the access-control store must allow the access.
package auth

import "errors"

var (
	// ErrStaleOrFutureTimestamp means the request timestamp is outside
	// the replay window in either direction.
	ErrStaleOrFutureTimestamp = errors.New("auth: timestamp outside replay window")

	// ErrInvalidSignature means the signature does not verify over the
	// canonical message, or the signature bytes are malformed.
	ErrInvalidSignature = errors.New("auth: invalid signature")

	// ErrAccessDenied means the access-control store rejected the
	// (file, user, device) triple.
	ErrAccessDenied = errors.New("auth: access denied")

	// ErrReplayedRequest means an identical signature was already
	// accepted within the replay window.
	ErrReplayedRequest = errors.New("auth: replayed request")
)
