// Package backup exports and restores a user's key ledger as an
// xz-compressed JSON snapshot. Restore validates the snapshot before
// installing it; an invalid snapshot never replaces a live chain.
package backup

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/arvht/chainkey/pkg/ledger"
)

// snapshot is the serialized backup envelope.
type snapshot struct {
	Version int            `json:"version"`
	User    string         `json:"user"`
	Chain   []ledger.Block `json:"chain"`
}

const snapshotVersion = 1

// ExportChain writes the user's full chain, genesis included, as an
// xz-compressed JSON snapshot.
func ExportChain(ledgers *ledger.Manager, user string, w io.Writer) error { // A
	blocks, err := ledgers.Blocks(user)
	if err != nil {
		return fmt.Errorf("read chain for %s: %w", user, err)
	}

	xzWriter, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("init xz writer: %w", err)
	}

	snap := snapshot{
		Version: snapshotVersion,
		User:    user,
		Chain:   blocks,
	}
	if err := json.NewEncoder(xzWriter).Encode(snap); err != nil {
		xzWriter.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := xzWriter.Close(); err != nil {
		return fmt.Errorf("finish xz stream: %w", err)
	}
	return nil
}

// RestoreChain reads a snapshot and installs it for its user. The
// snapshot chain must pass full validation first.
func RestoreChain(ledgers *ledger.Manager, r io.Reader) (string, error) { // A
	xzReader, err := xz.NewReader(r)
	if err != nil {
		return "", fmt.Errorf("init xz reader: %w", err)
	}

	var snap snapshot
	if err := json.NewDecoder(xzReader).Decode(&snap); err != nil {
		return "", fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Version != snapshotVersion {
		return "", fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.User == "" {
		return "", fmt.Errorf("snapshot has no user")
	}

	if err := ledgers.InstallSnapshot(snap.User, snap.Chain); err != nil {
		return "", fmt.Errorf("install snapshot for %s: %w", snap.User, err)
	}
	return snap.User, nil
}
