package keyderive

import (
	"bytes"
	"testing"

	"github.com/arvht/chainkey/pkg/digest"
)

func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()
	tip := digest.HashString("tip")

	a, err := Derive([]byte("file bytes"), tip)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive([]byte("file bytes"), tip)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("same input and tip must derive the same key")
	}
	if len(a) != KeyLength {
		t.Fatalf("key length = %d, want %d", len(a), KeyLength)
	}
}

func TestDeriveTipChangesKey(t *testing.T) {
	t.Parallel()
	file := []byte("identical file bytes")

	a, err := Derive(file, digest.HashString("tip-1"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive(file, digest.HashString("tip-2"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("different tips must derive different keys for identical bytes")
	}
}

func TestDeriveContentChangesKey(t *testing.T) {
	t.Parallel()
	tip := digest.HashString("tip")

	a, err := Derive([]byte("file a"), tip)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive([]byte("file b"), tip)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("different content must derive different keys")
	}
}

func TestDeriveEmptyInput(t *testing.T) {
	t.Parallel()
	key, err := Derive(nil, digest.HashString("tip"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(key) != KeyLength {
		t.Fatalf("key length = %d, want %d", len(key), KeyLength)
	}
	zero := make([]byte, KeyLength)
	if bytes.Equal(key, zero) {
		t.Fatal("empty input must not derive a zero key")
	}
}
