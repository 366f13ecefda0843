// Package chainkey is a device-authenticated key ledger for encrypted
// cloud storage. Every user owns an append-only hash chain of per-file
// encrypted key material; key derivation ties each upload to the
// chain's current tip so identical file bytes never reuse a key; and
// downloads release key material only after a signed request from a
// registered device passes the replay window, signature, and
// access-control checks.
package chainkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arvht/chainkey/internal/keyValStore"
	"github.com/arvht/chainkey/internal/seal"
	"github.com/arvht/chainkey/pkg/acl"
	"github.com/arvht/chainkey/pkg/auth"
	"github.com/arvht/chainkey/pkg/backup"
	"github.com/arvht/chainkey/pkg/devices"
	"github.com/arvht/chainkey/pkg/keyderive"
	"github.com/arvht/chainkey/pkg/ledger"
)

var (
	ErrNotStarted = errors.New("chainkey: not started")
	ErrClosed     = errors.New("chainkey: closed")
)

// maxAppendRetries bounds the read-tip/derive/append retry loop. An
// append conflict only happens when the same user uploads concurrently,
// so a handful of retries is plenty.
const maxAppendRetries = 5

// Config configures the instance. Only Paths[0] is used at the moment;
// future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold for on-disk operations.
	MinimumFreeGB uint
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// ContractGateway is the base URL of an external contract-backed ACL
	// service. If empty, the in-process ACL store is used.
	ContractGateway string
}

// ChainKey is the main handle. It owns the KV store, the per-user
// ledgers, the device registry, the ACL backend, and the request
// authenticator.
type ChainKey struct {
	log    *slog.Logger
	config Config

	kvMu    sync.RWMutex
	kv      *keyValStore.KeyValStore
	sealer  *seal.Sealer
	ledgers *ledger.Manager
	devices *devices.Registry
	acl     acl.Store
	auth    *auth.Authenticator

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// UploadReceipt reports the outcome of storing a file's key material.
type UploadReceipt struct {
	FileID string
	Block  ledger.Block
}

// defaultLogger returns a logger that writes text logs to stderr at Info level.
// Applications can inject their own slog.Logger for JSON, different levels, etc.
func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a handle. New does not perform heavy I/O or start
// background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*ChainKey, error) { // A
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &ChainKey{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start initializes the sealer, the KV store, and the subsystem
// handles, and marks the instance as ready. Start is safe to call
// multiple times; only the first call has effect.
func (ck *ChainKey) Start(ctx context.Context) error { // PA
	var startErr error
	ck.startOnce.Do(func() {
		dataRoot := ck.config.Paths[0]
		if err := os.MkdirAll(dataRoot, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dataRoot, err)
			return
		}

		// Master key for sealing derived key material lives next to the
		// data, Paths[0]/chainkey.key.
		sealer, err := seal.NewFromFile(filepath.Join(dataRoot, "chainkey.key"))
		if err != nil {
			startErr = fmt.Errorf("init sealer: %w", err)
			return
		}

		kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:            []string{filepath.Join(dataRoot, "kv")},
			MinimumFreeSpace: int(ck.config.MinimumFreeGB),
		})
		if err != nil {
			startErr = fmt.Errorf("init kv: %w", err)
			return
		}

		ck.sealer = sealer
		ck.kvMu.Lock()
		ck.kv = kv
		ck.kvMu.Unlock()

		ck.ledgers = ledger.NewManager(kv, ck.log, nil)
		ck.devices = devices.NewRegistry(kv)

		if ck.config.ContractGateway != "" {
			ck.acl = acl.NewContractStore(ck.config.ContractGateway, nil)
			ck.log.Info("using contract gateway ACL backend",
				"gateway", ck.config.ContractGateway)
		} else {
			ck.acl = acl.NewLocalStore(kv, nil)
		}

		ck.auth = auth.NewAuthenticator(ck.devices, ck.acl, nil)

		ck.started.Store(true)
		ck.log.Info("chainkey started", "path", dataRoot)
	})
	return startErr
}

// Run starts the instance, then blocks until ctx is canceled, and
// finally performs a bounded graceful shutdown. It is a convenience for
// services.
func (ck *ChainKey) Run(ctx context.Context) error { // A
	if err := ck.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ck.Close(shutdownCtx)
}

// Close terminates background components and releases resources. Close
// is idempotent and safe to call multiple times.
func (ck *ChainKey) Close(ctx context.Context) error { // A
	var closeErr error
	ck.closeOnce.Do(func() {
		ck.kvMu.Lock()
		kv := ck.kv
		ck.kv = nil
		ck.kvMu.Unlock()
		if kv != nil {
			kv.Close()
		}

		ck.log.Info("chainkey closed")
	})
	return closeErr
}

// CloseWithoutContext closes the instance using a background context.
// Prefer Close(ctx) to enforce an application-specific shutdown deadline.
func (ck *ChainKey) CloseWithoutContext() error { // A
	return ck.Close(context.Background())
}

// Devices returns the device registry. Mainly used by the HTTP layer
// and in tests.
func (ck *ChainKey) Devices() *devices.Registry {
	return ck.devices
}

// ACL returns the access-control backend in use.
func (ck *ChainKey) ACL() acl.Store {
	return ck.acl
}

func (ck *ChainKey) ready() error { // A
	if !ck.started.Load() {
		return ErrNotStarted
	}

	ck.kvMu.RLock()
	kv := ck.kv
	ck.kvMu.RUnlock()
	if kv == nil {
		return ErrClosed
	}

	return nil
}

// StoreFileKey runs the upload flow for a file's bytes: read the
// owner's current tip, derive key material, seal it, and append the
// block. The read-modify-write retries with a fresh tip when a
// concurrent upload moved the chain (ErrAppendConflict is the only
// error kind that warrants an automatic retry).
func (ck *ChainKey) StoreFileKey(ctx context.Context, owner string, fileBytes []byte) (UploadReceipt, error) { // PAP
	if err := ctx.Err(); err != nil {
		return UploadReceipt{}, err
	}
	if err := ck.ready(); err != nil {
		return UploadReceipt{}, err
	}

	fileID := uuid.NewString()

	// ACL registration comes first; a failed upload must not leave an
	// orphan block whose key material has no owner. An owner record for
	// a file id that never received a block is harmless.
	if err := ck.acl.SetOwner(fileID, owner); err != nil {
		return UploadReceipt{}, fmt.Errorf("register file owner: %w", err)
	}

	// The access predicate knows nothing about ownership; the owner gets
	// an explicit unrestricted grant so their own downloads pass it.
	if _, err := ck.acl.Grant(fileID, owner, owner, 0, nil); err != nil {
		return UploadReceipt{}, fmt.Errorf("grant owner access: %w", err)
	}

	block, err := ck.appendWithRetry(owner, fileID, owner, fileBytes, "")
	if err != nil {
		return UploadReceipt{}, err
	}

	ck.log.Info("stored file key",
		"owner", owner, "fileId", fileID, "blockIndex", block.Index)
	return UploadReceipt{FileID: fileID, Block: block}, nil
}

// ShareFileKey re-wraps the file's key material onto the grantee's
// chain and grants ACL access. The grant carries the expiry and device
// allow-list; a non-empty device list replaces any prior list.
func (ck *ChainKey) ShareFileKey(ctx context.Context, owner, grantee, fileID string, expiry int64, deviceIDs []string) (ledger.Block, error) { // PAP
	if err := ctx.Err(); err != nil {
		return ledger.Block{}, err
	}
	if err := ck.ready(); err != nil {
		return ledger.Block{}, err
	}

	// The grant enforces ownership before any chain is touched. If the
	// chain work below fails, the grant is revoked again; the grantee
	// must not keep access to a file id their chain never received.
	if _, err := ck.acl.Grant(fileID, owner, grantee, expiry, deviceIDs); err != nil {
		return ledger.Block{}, err
	}

	keyMaterial, err := ck.releaseKeyMaterial(owner, fileID)
	if err != nil {
		ck.rollbackShareGrant(fileID, owner, grantee)
		return ledger.Block{}, err
	}

	block, err := ck.appendSealed(grantee, fileID, grantee, keyMaterial, owner)
	if err != nil {
		ck.rollbackShareGrant(fileID, owner, grantee)
		return ledger.Block{}, err
	}

	ck.log.Info("shared file key",
		"owner", owner, "grantee", grantee, "fileId", fileID)
	return block, nil
}

// GrantAccess upserts an ACL grant without re-sharing key material.
func (ck *ChainKey) GrantAccess(ctx context.Context, fileID, caller, grantee string, expiry int64, deviceIDs []string) (acl.Grant, error) { // A
	if err := ctx.Err(); err != nil {
		return acl.Grant{}, err
	}
	if err := ck.ready(); err != nil {
		return acl.Grant{}, err
	}
	return ck.acl.Grant(fileID, caller, grantee, expiry, deviceIDs)
}

// RevokeAccess disables a grant, preserving the record for audit.
func (ck *ChainKey) RevokeAccess(ctx context.Context, fileID, caller, grantee string) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ck.ready(); err != nil {
		return err
	}
	return ck.acl.Revoke(fileID, caller, grantee)
}

// RegisterDevice upserts a device public key for the user.
func (ck *ChainKey) RegisterDevice(ctx context.Context, user, deviceID string, publicKey []byte) (devices.Device, error) { // A
	if err := ctx.Err(); err != nil {
		return devices.Device{}, err
	}
	if err := ck.ready(); err != nil {
		return devices.Device{}, err
	}
	return ck.devices.Register(user, deviceID, publicKey)
}

// AuthorizeDownload verifies a signed download request and, on success,
// releases the file's key material for the external decryption
// primitive. Any rejection is returned as a typed error; key material
// is never served from a chain that fails validation.
func (ck *ChainKey) AuthorizeDownload(ctx context.Context, req auth.Request) ([]byte, error) { // PAP
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ck.ready(); err != nil {
		return nil, err
	}

	result, err := ck.auth.Verify(req)
	if err != nil {
		ck.log.Warn("download request rejected",
			"user", req.UserID, "fileId", req.FileID,
			"stage", result.Stage.String(), "error", err)
		return nil, err
	}

	return ck.releaseKeyMaterial(req.UserID, req.FileID)
}

// ValidateChain walks the user's chain, recomputing hashes and
// linkage. Returns the first bad index, or -1 when valid.
func (ck *ChainKey) ValidateChain(ctx context.Context, user string) (bool, int, error) { // A
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	if err := ck.ready(); err != nil {
		return false, 0, err
	}
	return ck.ledgers.Validate(user)
}

// ChainBlocks returns a copy of the user's chain for inspection.
func (ck *ChainKey) ChainBlocks(ctx context.Context, user string) ([]ledger.Block, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ck.ready(); err != nil {
		return nil, err
	}
	return ck.ledgers.Blocks(user)
}

// ExportChain writes an xz-compressed snapshot of the user's chain.
func (ck *ChainKey) ExportChain(ctx context.Context, user string, w io.Writer) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ck.ready(); err != nil {
		return err
	}
	return backup.ExportChain(ck.ledgers, user, w)
}

// RestoreChain installs a previously exported snapshot. Returns the
// snapshot's user.
func (ck *ChainKey) RestoreChain(ctx context.Context, r io.Reader) (string, error) { // A
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ck.ready(); err != nil {
		return "", err
	}
	return backup.RestoreChain(ck.ledgers, r)
}

// rollbackShareGrant revokes the grant of a share whose chain work
// failed.
func (ck *ChainKey) rollbackShareGrant(fileID, owner, grantee string) { // A
	if err := ck.acl.Revoke(fileID, owner, grantee); err != nil {
		ck.log.Error("rollback share grant failed",
			"fileId", fileID, "grantee", grantee, "error", err)
	}
}

// releaseKeyMaterial validates the chain, then opens the sealed key
// material of the file's block. A corrupt chain fails closed for every
// file it holds.
func (ck *ChainKey) releaseKeyMaterial(user, fileID string) ([]byte, error) { // AP
	valid, firstBad, err := ck.ledgers.Validate(user)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("%w: first bad block %d", ledger.ErrCorruptChain, firstBad)
	}

	block, err := ck.ledgers.BlockByFileID(user, fileID)
	if err != nil {
		return nil, err
	}

	keyMaterial, err := ck.sealer.Open(block.EncryptedKeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("unseal key material for %s: %w", fileID, err)
	}
	return keyMaterial, nil
}

// appendWithRetry runs one read-tip/derive/seal/append cycle, retrying
// with a fresh tip on ErrAppendConflict.
func (ck *ChainKey) appendWithRetry(chainUser, fileID, owner string, fileBytes []byte, sharedFrom string) (ledger.Block, error) { // AP
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		tip, err := ck.ledgers.CurrentTip(chainUser)
		if err != nil {
			return ledger.Block{}, err
		}

		keyMaterial, err := keyderive.Derive(fileBytes, tip)
		if err != nil {
			return ledger.Block{}, err
		}

		sealed, err := ck.sealer.Seal(keyMaterial)
		if err != nil {
			return ledger.Block{}, err
		}

		block, err := ck.ledgers.Append(chainUser, tip, fileID, owner, sealed, sharedFrom)
		if err == nil {
			return block, nil
		}
		if !errors.Is(err, ledger.ErrAppendConflict) {
			return ledger.Block{}, err
		}
		lastErr = err
	}
	return ledger.Block{}, fmt.Errorf("append after %d attempts: %w", maxAppendRetries, lastErr)
}

// appendSealed seals pre-derived key material and appends it, retrying
// on tip conflicts. Used by the share flow, where the key material
// already exists and must not be re-derived.
func (ck *ChainKey) appendSealed(chainUser, fileID, owner string, keyMaterial []byte, sharedFrom string) (ledger.Block, error) { // AP
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		tip, err := ck.ledgers.CurrentTip(chainUser)
		if err != nil {
			return ledger.Block{}, err
		}

		sealed, err := ck.sealer.Seal(keyMaterial)
		if err != nil {
			return ledger.Block{}, err
		}

		block, err := ck.ledgers.Append(chainUser, tip, fileID, owner, sealed, sharedFrom)
		if err == nil {
			return block, nil
		}
		if !errors.Is(err, ledger.ErrAppendConflict) {
			return ledger.Block{}, err
		}
		lastErr = err
	}
	return ledger.Block{}, fmt.Errorf("append after %d attempts: %w", maxAppendRetries, lastErr)
}
