package lowertransport

import (
	"bytes"
	"testing"
)

func TestSegmentAccessMessage(t *testing.T) {
	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = byte(i)
	}
	segs, err := SegmentAccessMessage(true, 0x26, false, 0x0123, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	var joined []byte
	for i, s := range segs {
		if s.SegO != uint8(i) || s.SegN != 2 || s.SeqZero != 0x0123 || !s.AKF || s.AID != 0x26 {
			t.Errorf("segment %d header = %+v", i, s)
		}
		joined = append(joined, s.Segment...)
	}
	if !bytes.Equal(joined, payload) {
		t.Errorf("joined = %x", joined)
	}
	if len(segs[2].Segment) != 6 {
		t.Errorf("last segment length = %d, want 6", len(segs[2].Segment))
	}
}

func TestSegmentAccessMessage200Bytes(t *testing.T) {
	// A 200-byte payload needs ceil(200/12) = 17 segments.
	segs, err := SegmentAccessMessage(false, 0, true, 0x0001, make([]byte, 200))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 17 {
		t.Errorf("segments = %d, want 17", len(segs))
	}
}

func TestSegmentAccessMessageTooLarge(t *testing.T) {
	if _, err := SegmentAccessMessage(false, 0, false, 0, make([]byte, 32*MaxAccessSegmentLen+1)); err != ErrTooManySegments {
		t.Errorf("err = %v, want ErrTooManySegments", err)
	}
	if _, err := SegmentAccessMessage(false, 0, false, 0, nil); err != ErrEmptyPayload {
		t.Errorf("err = %v, want ErrEmptyPayload", err)
	}
}

func TestSegmentControlMessage(t *testing.T) {
	segs, err := SegmentControlMessage(OpcodeFriendUpdate, 0x0042, make([]byte, 20))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	for _, s := range segs {
		if s.Opcode != OpcodeFriendUpdate {
			t.Errorf("opcode = %v", s.Opcode)
		}
		if len(s.Segment) > MaxControlSegmentLen {
			t.Errorf("segment length = %d", len(s.Segment))
		}
	}
}

func TestSelectRetransmits(t *testing.T) {
	segs, err := SegmentAccessMessage(false, 0, false, 0x0001, make([]byte, 48))
	if err != nil {
		t.Fatal(err)
	}
	// Segments 0 and 2 acknowledged; 1 and 3 must go again.
	ack := BlockAck(0).WithAcked(0).WithAcked(2)
	missing := SelectRetransmits(segs, ack)
	if len(missing) != 2 || missing[0].SegO != 1 || missing[1].SegO != 3 {
		t.Errorf("retransmits = %+v", missing)
	}

	if got := SelectRetransmits(segs, 0x0F); got != nil {
		t.Errorf("all acked: retransmits = %+v", got)
	}
}
