package backup

import (
	"bytes"
	"testing"
	"time"

	"github.com/arvht/chainkey/pkg/ledger"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func seededManager(t *testing.T) *ledger.Manager {
	t.Helper()
	m := ledger.NewManager(nil, nil, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	tip, err := m.CurrentTip("alice")
	if err != nil {
		t.Fatalf("current tip: %v", err)
	}
	block, err := m.Append("alice", tip, "file-1", "alice", []byte("ekm-1"), "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := m.Append("alice", block.Hash, "file-2", "alice", []byte("ekm-2"), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	return m
}

func TestExportRestoreRoundtrip(t *testing.T) {
	t.Parallel()
	source := seededManager(t)

	var buf bytes.Buffer
	if err := ExportChain(source, "alice", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	target := ledger.NewManager(nil, nil, &fakeClock{now: time.Unix(1_700_000_100, 0)})
	user, err := RestoreChain(target, &buf)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if user != "alice" {
		t.Fatalf("restored user = %q", user)
	}

	sourceBlocks, _ := source.Blocks("alice")
	targetBlocks, err := target.Blocks("alice")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(targetBlocks) != len(sourceBlocks) {
		t.Fatalf("restored %d blocks, want %d", len(targetBlocks), len(sourceBlocks))
	}
	for i := range sourceBlocks {
		if !sourceBlocks[i].Hash.Equal(targetBlocks[i].Hash) {
			t.Fatalf("block %d hash mismatch after restore", i)
		}
	}

	if valid, _, _ := target.Validate("alice"); !valid {
		t.Fatal("restored chain should validate")
	}
}

func TestRestoreRejectsTamperedSnapshot(t *testing.T) {
	t.Parallel()
	source := seededManager(t)

	var buf bytes.Buffer
	if err := ExportChain(source, "alice", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Corrupt a byte in the middle of the compressed stream.
	raw := buf.Bytes()
	raw[len(raw)/2] ^= 0xff

	target := ledger.NewManager(nil, nil, nil)
	if _, err := RestoreChain(target, bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for corrupted snapshot stream")
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	t.Parallel()
	target := ledger.NewManager(nil, nil, nil)
	if _, err := RestoreChain(target, bytes.NewReader([]byte("not an xz stream"))); err == nil {
		t.Fatal("expected error for non-xz input")
	}
}
