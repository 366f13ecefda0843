package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/arvht/chainkey/pkg/acl"
	"github.com/arvht/chainkey/pkg/devices"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type harness struct {
	auth  *Authenticator
	clock *fakeClock
	priv  ed25519.PrivateKey
	store *acl.LocalStore
}

// newHarness registers alice's laptop, makes alice the owner of file-1,
// and grants her access to it.
func newHarness(t *testing.T) *harness {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	registry := devices.NewRegistry(nil)
	if _, err := registry.Register("alice", "laptop", pub); err != nil {
		t.Fatalf("register device: %v", err)
	}

	store := acl.NewLocalStore(nil, clk)
	if err := store.SetOwner("file-1", "alice"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if _, err := store.Grant("file-1", "alice", "alice", 0, nil); err != nil {
		t.Fatalf("self grant: %v", err)
	}

	return &harness{
		auth:  NewAuthenticator(registry, store, clk),
		clock: clk,
		priv:  priv,
		store: store,
	}
}

func (h *harness) signedRequest(fileID, userID, deviceID string, ts int64) Request {
	return Request{
		FileID:    fileID,
		UserID:    userID,
		Timestamp: ts,
		Signature: ed25519.Sign(h.priv, CanonicalMessage(fileID, userID, ts)),
		DeviceID:  deviceID,
	}
}

func TestVerifyAuthorized(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	result, err := h.auth.Verify(req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Stage != StageAuthorized {
		t.Fatalf("stage = %s, want authorized", result.Stage)
	}
}

func TestVerifyTimestampWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		drift time.Duration
		ok    bool
	}{
		{"exact now", 0, true},
		{"just inside past", -299 * time.Second, true},
		{"window edge past", -300 * time.Second, true},
		{"just outside past", -301 * time.Second, false},
		{"window edge future", 300 * time.Second, true},
		{"just outside future", 301 * time.Second, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ts := h.clock.now.Add(tc.drift).Unix()
			_, err := h.auth.Verify(h.signedRequest("file-1", "alice", "laptop", ts))
			if tc.ok && err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrStaleOrFutureTimestamp) {
				t.Fatalf("expected ErrStaleOrFutureTimestamp, got %v", err)
			}
		})
	}
}

func TestVerifyExtremeTimestamps(t *testing.T) {
	t.Parallel()

	// Timestamps far enough out to wrap an int64 subtraction must still
	// fail the freshness gate; a wrapped drift must never look fresh.
	cases := []struct {
		name string
		ts   func(now int64) int64
	}{
		{"min int64", func(int64) int64 { return math.MinInt64 }},
		{"max int64", func(int64) int64 { return math.MaxInt64 }},
		{"wrapping past", func(now int64) int64 { return now + math.MinInt64 }},
		{"wrapping future", func(now int64) int64 { return now + math.MaxInt64 }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ts := tc.ts(h.clock.now.Unix())
			result, err := h.auth.Verify(h.signedRequest("file-1", "alice", "laptop", ts))
			if !errors.Is(err, ErrStaleOrFutureTimestamp) {
				t.Fatalf("expected ErrStaleOrFutureTimestamp, got %v", err)
			}
			if result.Stage != StageReceived {
				t.Fatalf("stage = %s, want received", result.Stage)
			}
		})
	}
}

func TestVerifyUnregisteredDevice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := h.signedRequest("file-1", "alice", "phone", h.clock.now.Unix())
	result, err := h.auth.Verify(req)
	if !errors.Is(err, devices.ErrDeviceNotRegistered) {
		t.Fatalf("expected ErrDeviceNotRegistered, got %v", err)
	}
	if result.Stage != StageTimestampChecked {
		t.Fatalf("stage = %s, want timestamp_checked", result.Stage)
	}
}

func TestVerifySignatureOverWrongFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Signed for file-1, presented for file-2. The file id is part of
	// the signed message, so the signature cannot transfer.
	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	req.FileID = "file-2"

	if _, err := h.auth.Verify(req); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyGarbageSignature(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	req.Signature = []byte("not a signature")

	if _, err := h.auth.Verify(req); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyReplayedSignature(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	if _, err := h.auth.Verify(req); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	result, err := h.auth.Verify(req)
	if !errors.Is(err, ErrReplayedRequest) {
		t.Fatalf("expected ErrReplayedRequest, got %v", err)
	}
	if result.Stage != StageSignatureVerified {
		t.Fatalf("stage = %s, want signature_verified", result.Stage)
	}

	// A freshly signed request still passes.
	fresh := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix()+1)
	if _, err := h.auth.Verify(fresh); err != nil {
		t.Fatalf("fresh verify: %v", err)
	}
}

func TestVerifyAccessDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if err := h.store.Revoke("file-1", "alice", "alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	result, err := h.auth.Verify(req)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if result.Stage != StageACLChecked {
		t.Fatalf("stage = %s, want acl_checked", result.Stage)
	}
}

func TestVerifyDeviceNotOnAllowList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Restrict the grant to a device that is registered for signing but
	// not the one making this request.
	if _, err := h.store.Grant("file-1", "alice", "alice", 0, []string{"phone"}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	req := h.signedRequest("file-1", "alice", "laptop", h.clock.now.Unix())
	if _, err := h.auth.Verify(req); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestCanonicalMessageFormat(t *testing.T) {
	t.Parallel()
	got := string(CanonicalMessage("file-1", "alice", 1700000000))
	if got != "file-1:alice:1700000000" {
		t.Fatalf("canonical message = %q", got)
	}
}
