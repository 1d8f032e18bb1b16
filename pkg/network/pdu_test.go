package network

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

func testNetworkKeys(t *testing.T, hexKey string) crypto.NetworkKeys {
	t.Helper()
	key, err := crypto.KeyFromHex(hexKey)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.DeriveNetworkKeys(crypto.NetworkKey(key))
}

func TestPDURoundTrip(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	ivIndex := mesh.IVIndex(0x12345678)

	pdu := &PDU{
		CTL:          false,
		TTL:          0x04,
		Seq:          0x3129AB,
		Src:          0x0003,
		Dst:          0x1201,
		TransportPDU: []byte{0x00, 0x56, 0x34, 0x12, 0x63, 0x96, 0x47, 0x71},
	}

	raw, err := pdu.Encode(&keys, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != headerSize+len(pdu.TransportPDU)+4 {
		t.Fatalf("encoded length = %d", len(raw))
	}

	decoded, usedKey, err := Decode(raw, []crypto.NetworkKeys{keys}, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if usedKey.NID != keys.NID {
		t.Errorf("decoded with NID %#x, want %#x", usedKey.NID, keys.NID)
	}
	if decoded.CTL != pdu.CTL || decoded.TTL != pdu.TTL || decoded.Seq != pdu.Seq ||
		decoded.Src != pdu.Src || decoded.Dst != pdu.Dst {
		t.Errorf("decoded header = %+v, want %+v", decoded, pdu)
	}
	if !bytes.Equal(decoded.TransportPDU, pdu.TransportPDU) {
		t.Errorf("transport PDU = %x, want %x", decoded.TransportPDU, pdu.TransportPDU)
	}
}

func TestPDUControlUses64BitMIC(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	ivIndex := mesh.IVIndex(1)

	pdu := &PDU{
		CTL:          true,
		TTL:          0x00,
		Seq:          1,
		Src:          0x1201,
		Dst:          0x0003,
		TransportPDU: []byte{0x00, 0x80, 0x00, 0x00, 0x00, 0x00},
	}
	raw, err := pdu.Encode(&keys, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != headerSize+len(pdu.TransportPDU)+8 {
		t.Fatalf("encoded length = %d, want 64-bit NetMIC", len(raw))
	}
	decoded, _, err := Decode(raw, []crypto.NetworkKeys{keys}, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if !bool(decoded.CTL) {
		t.Error("CTL bit lost")
	}
}

func TestPDUOnlyNIDInClear(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	ivIndex := mesh.IVIndex(0x12345678)

	pdu := &PDU{
		TTL:          0x0B,
		Seq:          0x000007,
		Src:          0x1234,
		Dst:          0xFFFF,
		TransportPDU: []byte{0x01, 0x02, 0x03, 0x04, 0x05},
	}
	raw, err := pdu.Encode(&keys, ivIndex)
	if err != nil {
		t.Fatal(err)
	}

	nid, ivi := mesh.SplitNID(raw[0])
	if nid != mesh.NID(keys.NID) || ivi != ivIndex.IVI() {
		t.Errorf("cleartext IVI|NID = (%#x, %v)", nid, ivi)
	}

	// The obfuscated header must not leak SEQ or SRC.
	if raw[2] == 0x00 && raw[3] == 0x00 && raw[4] == 0x07 {
		t.Error("sequence number visible in clear")
	}
	if raw[5] == 0x12 && raw[6] == 0x34 {
		t.Error("source address visible in clear")
	}
}

func TestDecodeWrongKeyDrops(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	other := testNetworkKeys(t, "f7a2a44f8e8a8029064f173ddc1e2b00")
	ivIndex := mesh.IVIndex(0)

	pdu := &PDU{
		TTL: 5, Seq: 9, Src: 0x0001, Dst: 0x0002,
		TransportPDU: []byte{0xAA},
	}
	raw, err := pdu.Encode(&keys, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(raw, []crypto.NetworkKeys{other}, ivIndex); err != ErrNoMatchingKey {
		t.Errorf("err = %v, want ErrNoMatchingKey", err)
	}
}

func TestDecodeTamperedDrops(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	ivIndex := mesh.IVIndex(0)

	pdu := &PDU{
		TTL: 5, Seq: 9, Src: 0x0001, Dst: 0x0002,
		TransportPDU: []byte{0xAA, 0xBB, 0xCC},
	}
	raw, err := pdu.Encode(&keys, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	if _, _, err := Decode(raw, []crypto.NetworkKeys{keys}, ivIndex); err != ErrNoMatchingKey {
		t.Errorf("err = %v, want ErrNoMatchingKey", err)
	}
}

func TestDecodeMultiKeySharedNID(t *testing.T) {
	// Two subnets can share a NID; decode must try both and pick the one
	// whose NetMIC verifies.
	keyA := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")
	keyB := testNetworkKeys(t, "18eed9c2a56add85049ffc3c59ad0e12")
	keyB.NID = keyA.NID
	ivIndex := mesh.IVIndex(2)

	pdu := &PDU{
		TTL: 3, Seq: 0x010203, Src: 0x0042, Dst: 0xC001,
		TransportPDU: []byte{0x66, 0x77},
	}
	raw, err := pdu.Encode(&keyB, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	decoded, used, err := Decode(raw, []crypto.NetworkKeys{keyA, keyB}, ivIndex)
	if err != nil {
		t.Fatal(err)
	}
	if used != nil && used.EncryptionKey != keyB.EncryptionKey {
		t.Error("decoded under the wrong key")
	}
	if decoded.Src != pdu.Src || decoded.Dst != pdu.Dst {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodePreviousIVIndex(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")

	pdu := &PDU{
		TTL: 1, Seq: 100, Src: 0x0005, Dst: 0x0006,
		TransportPDU: []byte{0x11},
	}
	// Encoded under IV Index 7, received by a node already on 8.
	raw, err := pdu.Encode(&keys, mesh.IVIndex(7))
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := Decode(raw, []crypto.NetworkKeys{keys}, mesh.IVIndex(8))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Seq != 100 {
		t.Errorf("Seq = %d, want 100", decoded.Seq)
	}
}

func TestEncodeValidation(t *testing.T) {
	keys := testNetworkKeys(t, "7dd7364cd842ad18c17c2b820c84c3d6")

	empty := &PDU{TTL: 1, Src: 0x0001, Dst: 0x0002}
	if _, err := empty.Encode(&keys, 0); err != ErrEmptyTransportPDU {
		t.Errorf("empty payload: err = %v, want ErrEmptyTransportPDU", err)
	}

	big := &PDU{TTL: 1, Src: 0x0001, Dst: 0x0002, TransportPDU: make([]byte, MaxTransportPDUSize+1)}
	if _, err := big.Encode(&keys, 0); err != ErrPDUTooLong {
		t.Errorf("oversized payload: err = %v, want ErrPDUTooLong", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	raw, _ := hex.DecodeString("68cab5c5")
	if _, _, err := Decode(raw, nil, 0); err != ErrPDUTooShort {
		t.Errorf("err = %v, want ErrPDUTooShort", err)
	}
}
