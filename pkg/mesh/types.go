// Package mesh defines the wire-level types shared by every layer of the
// Bluetooth Mesh stack: addresses, TTL, sequence numbers, the IV Index and
// the short key identifiers (NID, AID).
//
// Field widths and byte order follow the Mesh Profile Specification v1.0.
// Network, Lower Transport, Upper Transport and Provisioning fields are
// big-endian on the wire; Access and Foundation payloads are little-endian.
package mesh

// Field width limits from Mesh Profile Specification Section 3.4.4.
const (
	// TTLMax is the largest valid 7-bit Time To Live value.
	TTLMax = 0x7F

	// NIDMax is the largest valid 7-bit network key identifier.
	NIDMax = 0x7F

	// AIDMax is the largest valid 6-bit application key identifier.
	AIDMax = 0x3F

	// SequenceMax is the largest valid 24-bit sequence number.
	SequenceMax = 1<<24 - 1

	// SeqZeroMax is the largest valid 13-bit SeqZero value (Section 3.5.3.1).
	SeqZeroMax = 1<<13 - 1

	// KeyIndexMax is the largest valid 12-bit global key index.
	KeyIndexMax = 1<<12 - 1
)

// TTL is the 7-bit Time To Live field of a Network PDU.
type TTL uint8

// Valid reports whether the TTL fits in 7 bits.
func (t TTL) Valid() bool {
	return t <= TTLMax
}

// WithFlag packs the TTL and a 1-bit flag (CTL) into a single byte, with the
// flag in the most significant bit.
func (t TTL) WithFlag(flag bool) uint8 {
	b := uint8(t) & TTLMax
	if flag {
		b |= 0x80
	}
	return b
}

// SplitTTL unpacks a CTL|TTL byte into its TTL and flag components.
func SplitTTL(b uint8) (TTL, bool) {
	return TTL(b & TTLMax), b&0x80 != 0
}

// NID is the 7-bit network key identifier derived by k2. It is the only
// cleartext header field of a Network PDU besides IVI.
type NID uint8

// WithFlag packs the NID and a 1-bit flag (IVI) into a single byte, with the
// flag in the most significant bit.
func (n NID) WithFlag(flag bool) uint8 {
	b := uint8(n) & NIDMax
	if flag {
		b |= 0x80
	}
	return b
}

// SplitNID unpacks an IVI|NID byte into its NID and flag components.
func SplitNID(b uint8) (NID, bool) {
	return NID(b & NIDMax), b&0x80 != 0
}

// AID is the 6-bit application key identifier derived by k4. An AID is not
// unique; decryption tries every bound key sharing the AID.
type AID uint8

// SequenceNumber is the 24-bit per-source sequence number. Together with the
// IV Index and source address it makes every nonce in the network unique.
type SequenceNumber uint32

// Valid reports whether the sequence number fits in 24 bits.
func (s SequenceNumber) Valid() bool {
	return s <= SequenceMax
}

// SeqZero returns the 13 least significant bits of the sequence number, used
// to key segmented-message reassembly (Section 3.5.3.1).
func (s SequenceNumber) SeqZero() SeqZero {
	return SeqZero(s & SeqZeroMax)
}

// PutBytes writes the sequence number as 3 big-endian bytes.
func (s SequenceNumber) PutBytes(b []byte) {
	b[0] = byte(s >> 16)
	b[1] = byte(s >> 8)
	b[2] = byte(s)
}

// SequenceFromBytes reads a 3-byte big-endian sequence number.
func SequenceFromBytes(b []byte) SequenceNumber {
	return SequenceNumber(b[0])<<16 | SequenceNumber(b[1])<<8 | SequenceNumber(b[2])
}

// SeqZero is the 13-bit truncated sequence number identifying one segmented
// message. All segments of a message carry the same SeqZero.
type SeqZero uint16

// Valid reports whether the SeqZero fits in 13 bits.
func (s SeqZero) Valid() bool {
	return s <= SeqZeroMax
}

// IVIndex is the shared 32-bit epoch counter. It extends the 24-bit sequence
// number space and prevents nonce reuse across epochs (Section 3.8.4).
type IVIndex uint32

// IVI returns the least significant bit of the IV Index, carried in clear in
// every Network PDU.
func (iv IVIndex) IVI() bool {
	return iv&1 != 0
}

// Accepted returns the IV Index a received PDU was encrypted under, given the
// PDU's IVI bit. A node accepts the current IV Index and, when the IVI bit
// mismatches, the previous one (Section 3.10.5).
func (iv IVIndex) Accepted(ivi bool) IVIndex {
	if iv.IVI() == ivi {
		return iv
	}
	return iv - 1
}

// KeyIndex is a 12-bit global network or application key index.
type KeyIndex uint16

// Valid reports whether the key index fits in 12 bits.
func (k KeyIndex) Valid() bool {
	return k <= KeyIndexMax
}

// CTL distinguishes control messages (64-bit NetMIC, control payloads) from
// access messages (32-bit NetMIC, encrypted access payloads).
type CTL bool

// NetMICSize returns the NetMIC length selected by the CTL bit: 8 bytes for
// control PDUs, 4 for access PDUs (Section 3.4.4).
func (c CTL) NetMICSize() int {
	if c {
		return 8
	}
	return 4
}
