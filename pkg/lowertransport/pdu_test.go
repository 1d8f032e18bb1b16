package lowertransport

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btmesh/btmesh/pkg/mesh"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// Segmented access PDUs from Mesh Profile Specification Section 8.3.6: two
// segments of one access message, SeqZero 0x09AB.
func TestSegmentedAccessEncodeVectors(t *testing.T) {
	tests := []struct {
		name string
		pdu  SegmentedAccess
		want string
	}{
		{
			"segment 0",
			SegmentedAccess{
				SeqZero: 0x09AB, SegO: 0, SegN: 1,
				Segment: mustHex(t, "ee9dddfd2169326d23f3afdf"),
			},
			"8026ac01ee9dddfd2169326d23f3afdf",
		},
		{
			"segment 1",
			SegmentedAccess{
				SeqZero: 0x09AB, SegO: 1, SegN: 1,
				Segment: mustHex(t, "cfdc18c52fdef772e0e17308"),
			},
			"8026ac21cfdc18c52fdef772e0e17308",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pdu.Encode()
			if err != nil {
				t.Fatal(err)
			}
			if want := mustHex(t, tt.want); !bytes.Equal(got, want) {
				t.Errorf("Encode = %x, want %x", got, want)
			}

			parsed, err := Parse(mesh.CTL(false), got)
			if err != nil {
				t.Fatal(err)
			}
			seg, ok := parsed.(*SegmentedAccess)
			if !ok {
				t.Fatalf("parsed as %T", parsed)
			}
			if seg.SeqZero != tt.pdu.SeqZero || seg.SegO != tt.pdu.SegO ||
				seg.SegN != tt.pdu.SegN || seg.SZMIC != tt.pdu.SZMIC {
				t.Errorf("parsed header = %+v, want %+v", seg, tt.pdu)
			}
			if !bytes.Equal(seg.Segment, tt.pdu.Segment) {
				t.Errorf("segment = %x", seg.Segment)
			}
		})
	}
}

func TestUnsegmentedAccessRoundTrip(t *testing.T) {
	pdu := &UnsegmentedAccess{
		AKF:      true,
		AID:      0x26,
		UpperPDU: mustHex(t, "664342af1e6f6a5c9e"),
	}
	raw, err := pdu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 0x66 {
		t.Errorf("header byte = %#x, want 0x66", raw[0])
	}
	parsed, err := Parse(mesh.CTL(false), raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := parsed.(*UnsegmentedAccess)
	if !ok {
		t.Fatalf("parsed as %T", parsed)
	}
	if !got.AKF || got.AID != 0x26 || !bytes.Equal(got.UpperPDU, pdu.UpperPDU) {
		t.Errorf("parsed = %+v", got)
	}
}

func TestUnsegmentedControlRoundTrip(t *testing.T) {
	pdu := &UnsegmentedControl{
		Opcode:     OpcodeHeartbeat,
		Parameters: []byte{0x00, 0x07, 0x05, 0x01, 0x00, 0x00},
	}
	raw, err := pdu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(mesh.CTL(true), raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := parsed.(*UnsegmentedControl)
	if !ok {
		t.Fatalf("parsed as %T", parsed)
	}
	if got.Opcode != OpcodeHeartbeat || !bytes.Equal(got.Parameters, pdu.Parameters) {
		t.Errorf("parsed = %+v", got)
	}
}

func TestSegmentedControlRoundTrip(t *testing.T) {
	pdu := &SegmentedControl{
		Opcode:  OpcodeFriendOffer,
		SeqZero: 0x1FFF,
		SegO:    0x1F,
		SegN:    0x1F,
		Segment: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	raw, err := pdu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(mesh.CTL(true), raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := parsed.(*SegmentedControl)
	if !ok {
		t.Fatalf("parsed as %T", parsed)
	}
	if got.Opcode != pdu.Opcode || got.SeqZero != pdu.SeqZero ||
		got.SegO != pdu.SegO || got.SegN != pdu.SegN {
		t.Errorf("parsed = %+v, want %+v", got, pdu)
	}
}

func TestEncodeLimits(t *testing.T) {
	long := &UnsegmentedAccess{UpperPDU: make([]byte, MaxUnsegmentedAccessLen+1)}
	if _, err := long.Encode(); err != ErrPayloadTooLong {
		t.Errorf("oversized access: err = %v", err)
	}
	badIdx := &SegmentedAccess{SegO: 2, SegN: 1, Segment: []byte{1}}
	if _, err := badIdx.Encode(); err != ErrInvalidSegmentIdx {
		t.Errorf("SegO > SegN: err = %v", err)
	}
	longCtl := &UnsegmentedControl{Opcode: OpcodeFriendPoll, Parameters: make([]byte, MaxControlParamsLen+1)}
	if _, err := longCtl.Encode(); err != ErrPayloadTooLong {
		t.Errorf("oversized control: err = %v", err)
	}
}

func TestSegmentAckCodec(t *testing.T) {
	ack := &SegmentAck{OBO: true, SeqZero: 0x09AB, BlockAck: 0x00000003}
	ctl := ack.ToControl()
	if ctl.Opcode != OpcodeSegmentAck {
		t.Fatalf("opcode = %v", ctl.Opcode)
	}
	raw, err := ctl.Encode()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(mesh.CTL(true), raw)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseSegmentAck(parsed.(*UnsegmentedControl))
	if err != nil {
		t.Fatal(err)
	}
	if back.OBO != ack.OBO || back.SeqZero != ack.SeqZero || back.BlockAck != ack.BlockAck {
		t.Errorf("parsed = %+v, want %+v", back, ack)
	}
}

func TestParseSegmentAckRejectsOtherOpcodes(t *testing.T) {
	ctl := &UnsegmentedControl{Opcode: OpcodeFriendPoll, Parameters: make([]byte, 6)}
	if _, err := ParseSegmentAck(ctl); err != ErrNotSegmentAck {
		t.Errorf("err = %v, want ErrNotSegmentAck", err)
	}
}

func TestBlockAck(t *testing.T) {
	var b BlockAck
	b = b.WithAcked(0).WithAcked(2)
	if !b.Acked(0) || b.Acked(1) || !b.Acked(2) {
		t.Errorf("bitmap = %#x", b)
	}
	if b.AllAcked(2) {
		t.Error("AllAcked with a missing segment")
	}
	if got := b.Remaining(2); len(got) != 1 || got[0] != 1 {
		t.Errorf("Remaining = %v, want [1]", got)
	}
	if !b.WithAcked(1).AllAcked(2) {
		t.Error("AllAcked false with all segments present")
	}

	// Full 32-segment message.
	full := BlockAck(0xFFFFFFFF)
	if !full.AllAcked(SegMax) {
		t.Error("full bitmap not AllAcked")
	}
}
