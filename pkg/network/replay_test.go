package network

import (
	"testing"

	"github.com/btmesh/btmesh/pkg/mesh"
)

func TestReplayCache(t *testing.T) {
	c := NewReplayCache()
	src := mesh.UnicastAddress(0x1201)

	if c.Replay(src, 10, 5) {
		t.Error("unknown source flagged as replay")
	}
	c.Commit(src, 10, 5)

	if !c.Replay(src, 10, 5) {
		t.Error("same sequence not flagged as replay")
	}
	if !c.Replay(src, 9, 5) {
		t.Error("older sequence not flagged as replay")
	}
	if c.Replay(src, 11, 5) {
		t.Error("newer sequence flagged as replay")
	}

	// A different source is independent.
	if c.Replay(mesh.UnicastAddress(0x1202), 1, 5) {
		t.Error("other source flagged as replay")
	}
}

func TestReplayCacheIVIndexEpochs(t *testing.T) {
	c := NewReplayCache()
	src := mesh.UnicastAddress(0x0042)
	c.Commit(src, 0xFFFFFF, 5)

	// After an IV Index update the sequence space restarts.
	if c.Replay(src, 0, 6) {
		t.Error("sequence 0 under new IV Index flagged as replay")
	}
	c.Commit(src, 0, 6)

	// PDUs from the old epoch are now replays regardless of sequence.
	if !c.Replay(src, 0xFFFFFF, 5) {
		t.Error("old epoch PDU not flagged as replay")
	}

	// Commit of stale data must not roll the entry back.
	c.Commit(src, 123, 5)
	if c.Replay(src, 1, 6) {
		t.Error("stale commit rolled back the cache entry")
	}
}
