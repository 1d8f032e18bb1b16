package provisioning

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestTransactionStartRoundTrip(t *testing.T) {
	start := &TransactionStart{
		SegN:        2,
		TotalLength: 65,
		FCS:         0xAB,
		Data:        bytes.Repeat([]byte{0x11}, StartDataLen),
	}
	raw, err := start.EncodeGeneric()
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 2<<2 {
		t.Errorf("first octet = %#x", raw[0])
	}
	parsed, err := ParseGeneric(raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := parsed.(*TransactionStart)
	if !ok {
		t.Fatalf("parsed as %T", parsed)
	}
	if got.SegN != 2 || got.TotalLength != 65 || got.FCS != 0xAB || !bytes.Equal(got.Data, start.Data) {
		t.Errorf("parsed = %+v", got)
	}
}

func TestTransactionAckRoundTrip(t *testing.T) {
	raw, err := (&TransactionAck{}).EncodeGeneric()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{0x01}) {
		t.Errorf("Encode = %x", raw)
	}
	parsed, err := ParseGeneric(raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed.(*TransactionAck); !ok {
		t.Fatalf("parsed as %T", parsed)
	}
}

func TestTransactionContinuationRoundTrip(t *testing.T) {
	cont := &TransactionContinuation{SegmentIndex: 5, Data: []byte{1, 2, 3}}
	raw, err := cont.EncodeGeneric()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseGeneric(raw)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := parsed.(*TransactionContinuation)
	if !ok {
		t.Fatalf("parsed as %T", parsed)
	}
	if got.SegmentIndex != 5 || !bytes.Equal(got.Data, cont.Data) {
		t.Errorf("parsed = %+v", got)
	}

	bad := &TransactionContinuation{SegmentIndex: 0, Data: []byte{1}}
	if _, err := bad.EncodeGeneric(); err != ErrSegmentOutOfRange {
		t.Errorf("segment 0: err = %v", err)
	}
}

func TestBearerControlRoundTrips(t *testing.T) {
	id := uuid.MustParse("70cf7c9732a345b691494810d2e9cbf4")

	open := &LinkOpen{DeviceUUID: id}
	raw, err := open.EncodeGeneric()
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != 0x03 || len(raw) != 17 {
		t.Errorf("LinkOpen = %x", raw)
	}
	parsed, err := ParseGeneric(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := parsed.(*LinkOpen); !ok || got.DeviceUUID != id {
		t.Errorf("parsed = %+v", parsed)
	}

	rawAck, _ := (&LinkAck{}).EncodeGeneric()
	if !bytes.Equal(rawAck, []byte{0x07}) {
		t.Errorf("LinkAck = %x", rawAck)
	}
	if _, err := ParseGeneric(rawAck); err != nil {
		t.Fatal(err)
	}

	rawClose, _ := (&LinkClose{Reason: CloseTimeout}).EncodeGeneric()
	if !bytes.Equal(rawClose, []byte{0x0B, 0x01}) {
		t.Errorf("LinkClose = %x", rawClose)
	}
	parsed, err = ParseGeneric(rawClose)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := parsed.(*LinkClose); !ok || got.Reason != CloseTimeout {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestParseGenericRejectsBadBearerOpcode(t *testing.T) {
	if _, err := ParseGeneric([]byte{0x03<<2 | 0x03}); err != ErrInvalidBearerOpcode {
		t.Errorf("err = %v, want ErrInvalidBearerOpcode", err)
	}
}
