package network

import (
	"sync"

	"github.com/btmesh/btmesh/pkg/mesh"
)

// ReplayCache tracks the highest (IV Index, sequence number) pair seen from
// each source element so that replayed PDUs can be rejected
// (Section 3.8.8). Entries survive an IV Index update: a PDU under a newer
// IV Index always supersedes one under an older.
type ReplayCache struct {
	mu      sync.Mutex
	entries map[mesh.UnicastAddress]replayEntry
}

type replayEntry struct {
	ivIndex mesh.IVIndex
	seq     mesh.SequenceNumber
}

// NewReplayCache creates an empty replay cache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{entries: make(map[mesh.UnicastAddress]replayEntry)}
}

// Replay reports whether a PDU with the given source, sequence number and
// IV Index has already been seen. It does not record the PDU; call Commit
// once the PDU has been fully authenticated and accepted.
func (c *ReplayCache) Replay(src mesh.UnicastAddress, seq mesh.SequenceNumber, ivIndex mesh.IVIndex) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[src]
	if !ok {
		return false
	}
	if ivIndex != e.ivIndex {
		return ivIndex < e.ivIndex
	}
	return seq <= e.seq
}

// Commit records an accepted PDU. It is a no-op if the cache already holds a
// newer entry for the source.
func (c *ReplayCache) Commit(src mesh.UnicastAddress, seq mesh.SequenceNumber, ivIndex mesh.IVIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[src]
	if ok && (ivIndex < e.ivIndex || (ivIndex == e.ivIndex && seq <= e.seq)) {
		return
	}
	c.entries[src] = replayEntry{ivIndex: ivIndex, seq: seq}
}

// Len returns the number of tracked sources.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
