package ledger

import (
	"encoding/binary"

	"github.com/arvht/chainkey/pkg/digest"
)

// GenesisFileID is the file identifier carried by every genesis block.
const GenesisFileID = "genesis"

// Block is one entry in a user's key ledger. Blocks are immutable once
// appended.
type Block struct {
	Index                uint64        `json:"index"`
	Timestamp            int64         `json:"timestamp"`
	FileID               string        `json:"file_id"`
	Owner                string        `json:"owner"`
	EncryptedKeyMaterial []byte        `json:"encrypted_key_material"`
	PrevHash             digest.Digest `json:"prev_hash"`
	Hash                 digest.Digest `json:"hash"`
	IsShared             bool          `json:"is_shared"`
	SharedFrom           string        `json:"shared_from,omitempty"`
}

// ComputeHash returns the digest of the block's chained fields:
// index, timestamp, file_id, owner, encrypted key material, prev_hash.
// Fields are length-prefixed so the encoding is unambiguous.
func (b Block) ComputeHash() digest.Digest { // A
	buf := make([]byte, 0, 8+8+len(b.FileID)+len(b.Owner)+len(b.EncryptedKeyMaterial)+len(b.PrevHash)+12)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], b.Index)
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(b.Timestamp))
	buf = append(buf, scratch[:]...)

	buf = appendLenPrefixed(buf, []byte(b.FileID))
	buf = appendLenPrefixed(buf, []byte(b.Owner))
	buf = appendLenPrefixed(buf, b.EncryptedKeyMaterial)
	buf = append(buf, b.PrevHash[:]...)

	return digest.HashBytes(buf)
}

// VerifyHash reports whether the stored hash matches the recomputed one.
func (b Block) VerifyHash() bool { // A
	return b.Hash.Equal(b.ComputeHash())
}

// IsGenesis reports whether this is the chain's genesis block.
func (b Block) IsGenesis() bool { // A
	return b.Index == 0 && b.FileID == GenesisFileID
}

func appendLenPrefixed(buf, field []byte) []byte { // A
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(field)))
	buf = append(buf, scratch[:]...)
	return append(buf, field...)
}
