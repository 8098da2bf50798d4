// Package ledger stores finalized blocks. The in-memory store backs the
// local simulation and the multi-node tests; a production node persists
// blocks and executes transactions behind the same interface.
package ledger

import (
	"sync"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/logging"
)

// MemoryStore is an in-memory block store, safe for concurrent use.
type MemoryStore struct {
	mut    sync.RWMutex
	blocks map[dbft.Height]dbft.CommittedBlock
	tip    dbft.Height
	empty  bool

	logger logging.Logger
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[dbft.Height]dbft.CommittedBlock),
		empty:  true,
		logger: logging.New("ledger"),
	}
}

// CommitBlock stores a finalized block. A second block at an already
// committed height is dropped; consensus guarantees it would be identical.
func (s *MemoryStore) CommitBlock(block dbft.CommittedBlock) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, ok := s.blocks[block.Height]; ok {
		s.logger.Debugf("duplicate block at height %d dropped", block.Height)
		return
	}
	s.blocks[block.Height] = block
	if s.empty || block.Height > s.tip {
		s.tip = block.Height
		s.empty = false
	}
	s.logger.Infof("stored block %.8s at height %d", block.Hash, block.Height)
}

// Block returns the block committed at the given height.
func (s *MemoryStore) Block(height dbft.Height) (dbft.CommittedBlock, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	b, ok := s.blocks[height]
	return b, ok
}

// Tip returns the highest committed height. The second return is false while
// the store is empty.
func (s *MemoryStore) Tip() (dbft.Height, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.tip, !s.empty
}

// Len returns the number of stored blocks.
func (s *MemoryStore) Len() int {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return len(s.blocks)
}
