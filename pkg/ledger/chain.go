package ledger

import (
	"sync"

	"github.com/arvht/chainkey/pkg/digest"
)

// chain is one user's ledger. All access goes through the chain's own
// mutex; there is no cross-user shared state.
type chain struct {
	mu      sync.Mutex
	user    string
	blocks  []Block
	corrupt bool
}

// tip returns the hash of the latest block. The caller must hold mu and
// must have ensured the genesis block exists.
func (c *chain) tip() digest.Digest { // A
	return c.blocks[len(c.blocks)-1].Hash
}

// ensureGenesis lazily creates the genesis block. The caller must hold
// mu. Returns the genesis block and whether it was newly created.
func (c *chain) ensureGenesis(now int64) (Block, bool) { // A
	if len(c.blocks) > 0 {
		return c.blocks[0], false
	}

	genesis := Block{
		Index:     0,
		Timestamp: now,
		FileID:    GenesisFileID,
		Owner:     c.user,
		PrevHash:  digest.Digest{},
	}
	genesis.Hash = genesis.ComputeHash()
	c.blocks = append(c.blocks, genesis)
	return genesis, true
}

// append adds a block on top of the current tip. The caller must hold mu
// and must have ensured the genesis block exists. Fails with
// ErrAppendConflict when expectedTip no longer matches the actual tip.
func (c *chain) append(expectedTip digest.Digest, fileID, owner string, ekm []byte, sharedFrom string, now int64) (Block, error) { // AP
	if c.corrupt {
		return Block{}, ErrCorruptChain
	}

	actualTip := c.tip()
	if !actualTip.Equal(expectedTip) {
		return Block{}, ErrAppendConflict
	}

	prev := c.blocks[len(c.blocks)-1]
	block := Block{
		Index:                prev.Index + 1,
		Timestamp:            now,
		FileID:               fileID,
		Owner:                owner,
		EncryptedKeyMaterial: ekm,
		PrevHash:             actualTip,
		IsShared:             sharedFrom != "",
		SharedFrom:           sharedFrom,
	}
	block.Hash = block.ComputeHash()
	c.blocks = append(c.blocks, block)
	return block, nil
}

// blockByFileID returns the most recent block for the file. The caller
// must hold mu.
func (c *chain) blockByFileID(fileID string) (Block, error) { // A
	if c.corrupt {
		return Block{}, ErrCorruptChain
	}

	for i := len(c.blocks) - 1; i >= 0; i-- {
		if c.blocks[i].FileID == fileID && !c.blocks[i].IsGenesis() {
			return c.blocks[i], nil
		}
	}
	return Block{}, ErrNotFound
}

// validate walks the chain, recomputing every hash and checking
// linkage. Returns the index of the first bad block, or -1 when the
// chain is valid. A failed validation marks the whole chain corrupt so
// later reads fail closed. The caller must hold mu.
func (c *chain) validate() (bool, int) { // AP
	for i, block := range c.blocks {
		if !block.VerifyHash() {
			c.corrupt = true
			return false, i
		}
		if i == 0 {
			if !block.PrevHash.IsZero() {
				c.corrupt = true
				return false, i
			}
			continue
		}
		if !block.PrevHash.Equal(c.blocks[i-1].Hash) {
			c.corrupt = true
			return false, i
		}
	}
	return true, -1
}
