package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arvht/chainkey/internal/keyValStore"
	"github.com/arvht/chainkey/pkg/digest"
)

// Manager owns all per-user chains. Each chain is an independently
// locked structure; the manager's own mutex only guards the chain map.
type Manager struct {
	mu     sync.Mutex
	chains map[string]*chain
	store  *keyValStore.KeyValStore
	clock  Clock
	log    *slog.Logger
}

// NewManager creates a ledger manager. The store may be nil for a
// memory-only ledger (tests); clock nil means wall clock.
func NewManager(store *keyValStore.KeyValStore, log *slog.Logger, clock Clock) *Manager { // A
	if clock == nil {
		clock = realClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		chains: make(map[string]*chain),
		store:  store,
		clock:  clock,
		log:    log,
	}
}

// CurrentTip returns the hash of the user's latest block, lazily
// creating the chain and its genesis block on first use.
func (m *Manager) CurrentTip(user string) (digest.Digest, error) { // A
	c, err := m.chainFor(user)
	if err != nil {
		return digest.Digest{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt {
		return digest.Digest{}, ErrCorruptChain
	}

	if genesis, created := c.ensureGenesis(m.clock.Now().Unix()); created {
		if err := m.persistBlock(user, genesis); err != nil {
			c.blocks = c.blocks[:0]
			return digest.Digest{}, err
		}
	}
	return c.tip(), nil
}

// Append adds a block for fileID on top of expectedTip. The expected
// tip is the tip the caller read before deriving key material; if the
// chain has moved since, Append fails with ErrAppendConflict and the
// caller must re-read the tip, re-derive, and retry.
func (m *Manager) Append(user string, expectedTip digest.Digest, fileID, owner string, ekm []byte, sharedFrom string) (Block, error) { // AP
	c, err := m.chainFor(user)
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if genesis, created := c.ensureGenesis(m.clock.Now().Unix()); created {
		if err := m.persistBlock(user, genesis); err != nil {
			c.blocks = c.blocks[:0]
			return Block{}, err
		}
	}

	block, err := c.append(expectedTip, fileID, owner, ekm, sharedFrom, m.clock.Now().Unix())
	if err != nil {
		return Block{}, err
	}

	if err := m.persistBlock(user, block); err != nil {
		c.blocks = c.blocks[:len(c.blocks)-1]
		return Block{}, err
	}

	return block, nil
}

// BlockByFileID returns the most recent block holding key material for
// the file, or ErrNotFound.
func (m *Manager) BlockByFileID(user, fileID string) (Block, error) { // A
	c, err := m.chainFor(user)
	if err != nil {
		return Block{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockByFileID(fileID)
}

// Validate recomputes every block hash and checks linkage. A chain that
// fails validation is marked corrupt and all subsequent reads against it
// fail closed with ErrCorruptChain. Returns the first bad index, or -1.
func (m *Manager) Validate(user string) (bool, int, error) { // A
	c, err := m.chainFor(user)
	if err != nil {
		return false, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	valid, firstBad := c.validate()
	if !valid {
		m.log.Error("chain failed validation",
			"user", user, "firstBadIndex", firstBad)
	}
	return valid, firstBad, nil
}

// Blocks returns a copy of the user's chain, genesis included.
func (m *Manager) Blocks(user string) ([]Block, error) { // A
	c, err := m.chainFor(user)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.corrupt {
		return nil, ErrCorruptChain
	}
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out, nil
}

// InstallSnapshot replaces the user's in-memory chain with a restored
// snapshot. The snapshot must validate; an invalid snapshot is rejected
// without touching the existing chain.
func (m *Manager) InstallSnapshot(user string, blocks []Block) error { // AP
	candidate := &chain{user: user, blocks: blocks}
	candidate.mu.Lock()
	valid, firstBad := candidate.validate()
	candidate.mu.Unlock()
	if !valid {
		return fmt.Errorf("%w: snapshot block %d", ErrCorruptChain, firstBad)
	}

	// A snapshot shorter than the persisted chain would otherwise leave
	// stale tail blocks behind, and the merged chain breaks linkage on
	// the next load.
	if m.store != nil {
		if err := m.store.DeleteItemsWithPrefix(chainPrefix(user)); err != nil {
			return fmt.Errorf("clear persisted chain for %s: %w", user, err)
		}
	}

	for _, block := range blocks {
		if err := m.persistBlock(user, block); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.chains[user] = candidate
	m.mu.Unlock()
	return nil
}

// chainFor returns the user's chain, loading persisted blocks on first
// access.
func (m *Manager) chainFor(user string) (*chain, error) { // A
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.chains[user]; ok {
		return c, nil
	}

	c := &chain{user: user}
	if m.store != nil {
		blocks, err := m.loadBlocks(user)
		if err != nil {
			return nil, err
		}
		c.blocks = blocks
	}
	m.chains[user] = c
	return c, nil
}

func (m *Manager) persistBlock(user string, block Block) error { // A
	if m.store == nil {
		return nil
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", block.Index, err)
	}
	return m.store.Write(blockKey(user, block.Index), raw)
}

func (m *Manager) loadBlocks(user string) ([]Block, error) { // A
	items, err := m.store.GetItemsWithPrefix(chainPrefix(user))
	if err != nil {
		return nil, fmt.Errorf("load chain for %s: %w", user, err)
	}

	blocks := make([]Block, 0, len(items))
	for _, kv := range items {
		var block Block
		if err := json.Unmarshal(kv[1], &block); err != nil {
			return nil, fmt.Errorf("decode block %s: %w", string(kv[0]), err)
		}
		blocks = append(blocks, block)
	}

	// Badger iterates keys in byte order; the zero-padded index keeps
	// that identical to chain order. Sort anyway so a future key layout
	// change cannot silently reorder chains.
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Index < blocks[j].Index
	})
	return blocks, nil
}

func chainPrefix(user string) []byte { // A
	return []byte("chain/" + user + "/")
}

func blockKey(user string, index uint64) []byte { // A
	return []byte(fmt.Sprintf("chain/%s/%020d", user, index))
}
