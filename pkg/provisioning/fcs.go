package provisioning

// Frame Check Sequence of the Generic Provisioning transaction start PDU.
// This is the 8-bit FCS of 3GPP TS 27.010: polynomial x^8 + x^2 + x + 1,
// bit-reversed, initial value 0xFF, transmitted as the ones complement.

// fcsCheck is the residue left by running the FCS over a frame followed by
// its own FCS octet.
const fcsCheck = 0xCF

var fcsTable [256]uint8

func init() {
	// Reflected form of the polynomial 0x07.
	const poly = 0xE0
	for i := range fcsTable {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

// FCS computes the frame check sequence over data.
func FCS(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = fcsTable[crc^b]
	}
	return ^crc
}

// CheckFCS reports whether fcs is the valid frame check sequence for data.
func CheckFCS(data []byte, fcs uint8) bool {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = fcsTable[crc^b]
	}
	return fcsTable[crc^fcs] == fcsCheck
}
