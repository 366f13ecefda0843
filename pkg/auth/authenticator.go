package auth

import (
	"crypto/ed25519"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arvht/chainkey/pkg/acl"
	"github.com/arvht/chainkey/pkg/devices"
	"github.com/arvht/chainkey/pkg/digest"
)

// ReplayWindow is the fixed, symmetric freshness window for request
// timestamps. Existing signed requests depend on this value.
const ReplayWindow = 300 * time.Second

// Stage is how far a request advanced through verification.
type Stage int // A

const ( // A
	StageReceived Stage = iota
	StageTimestampChecked
	StageSignatureVerified
	StageACLChecked
	StageAuthorized
)

// String returns the textual stage name.
func (s Stage) String() string { // A
	switch s {
	case StageReceived:
		return "received"
	case StageTimestampChecked:
		return "timestamp_checked"
	case StageSignatureVerified:
		return "signature_verified"
	case StageACLChecked:
		return "acl_checked"
	case StageAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Request is one signed download request. It exists only for the
// duration of a single verification; a rejected client must resubmit a
// freshly signed, freshly timestamped request.
type Request struct {
	FileID    string
	UserID    string
	Timestamp int64
	Signature []byte
	DeviceID  string
}

// Result reports the verification outcome and the stage reached.
type Result struct {
	Stage    Stage
	DeviceID string
}

// CanonicalMessage is the exact byte encoding the device signs.
func CanonicalMessage(fileID, userID string, timestamp int64) []byte { // A
	return []byte(fmt.Sprintf("%s:%s:%d", fileID, userID, timestamp))
}

// Authenticator verifies signed requests against the device registry
// and an access-control backend. Verification is pure and synchronous;
// independent requests verify in parallel without locking.
type Authenticator struct {
	registry *devices.Registry
	acl      acl.Store
	clock    Clock
	seen     *gocache.Cache
}

// NewAuthenticator creates an authenticator. Clock nil means wall
// clock.
func NewAuthenticator(registry *devices.Registry, store acl.Store, clock Clock) *Authenticator { // A
	if clock == nil {
		clock = realClock{}
	}
	return &Authenticator{
		registry: registry,
		acl:      store,
		clock:    clock,
		seen:     gocache.New(2*ReplayWindow, 10*time.Minute),
	}
}

// Verify runs the verification state machine:
// Received -> TimestampChecked -> SignatureVerified -> ACLChecked ->
// Authorized. The returned Result carries the stage reached; a non-nil
// error is one of the package sentinels (or
// devices.ErrDeviceNotRegistered).
func (a *Authenticator) Verify(req Request) (Result, error) { // PAP
	result := Result{Stage: StageReceived, DeviceID: req.DeviceID}

	// The bounds are compared directly in seconds. Subtracting first
	// wraps for extreme timestamps and can make a huge drift look fresh.
	now := a.clock.Now().Unix()
	window := int64(ReplayWindow / time.Second)
	if req.Timestamp < now-window || req.Timestamp > now+window {
		return result, fmt.Errorf("%w: timestamp %d not within %ds of %d",
			ErrStaleOrFutureTimestamp, req.Timestamp, window, now)
	}
	result.Stage = StageTimestampChecked

	device, err := a.registry.Lookup(req.UserID, req.DeviceID)
	if err != nil {
		return result, err
	}

	if len(device.PublicKey) != ed25519.PublicKeySize ||
		len(req.Signature) != ed25519.SignatureSize {
		return result, ErrInvalidSignature
	}

	message := CanonicalMessage(req.FileID, req.UserID, req.Timestamp)
	if !ed25519.Verify(ed25519.PublicKey(device.PublicKey), message, req.Signature) {
		return result, ErrInvalidSignature
	}
	result.Stage = StageSignatureVerified

	// An identical signature inside the window is a replay, not a fresh
	// request. Keyed by signature digest so the cache stays small.
	replayKey := digest.HashBytes(req.Signature).Hex()
	if err := a.seen.Add(replayKey, struct{}{}, 2*ReplayWindow); err != nil {
		return result, ErrReplayedRequest
	}

	allowed, err := a.acl.IsAllowed(req.FileID, req.UserID, req.DeviceID)
	if err != nil {
		return result, fmt.Errorf("check access: %w", err)
	}
	result.Stage = StageACLChecked
	if !allowed {
		return result, ErrAccessDenied
	}

	result.Stage = StageAuthorized
	return result, nil
}
