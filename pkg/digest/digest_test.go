package digest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashBytesDeterministic(t *testing.T) {
	t.Parallel()
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hex(), b.Hex())
}

func TestHashBytesDiffers(t *testing.T) {
	t.Parallel()
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello!"))
	assert.False(t, a.Equal(b))
}

func TestZeroDigest(t *testing.T) {
	t.Parallel()
	var zero Digest
	assert.True(t, zero.IsZero())
	assert.False(t, HashBytes(nil).IsZero())
}

func TestXorSelfIsZero(t *testing.T) {
	t.Parallel()
	d := HashString("some input")
	assert.True(t, d.Xor(d).IsZero())
}

func TestXorCommutes(t *testing.T) {
	t.Parallel()
	a := HashString("a")
	b := HashString("b")
	assert.True(t, a.Xor(b).Equal(b.Xor(a)))
}

func TestJSONRoundtrip(t *testing.T) {
	t.Parallel()
	orig := HashBytes([]byte("payload"))

	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Digest
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assert.True(t, orig.Equal(got))
}

func TestUnmarshalRejectsBadHex(t *testing.T) {
	t.Parallel()
	var d Digest
	if err := json.Unmarshal([]byte(`"zz"`), &d); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if err := json.Unmarshal([]byte(`"abcd"`), &d); err == nil {
		t.Fatal("expected error for short digest")
	}
}
