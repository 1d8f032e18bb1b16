package crypto

import "encoding/binary"

// The four 13-byte AES-CCM nonce classes of Section 3.8.5. Layout:
//
//	octet  0      nonce type
//	octet  1      class-specific (CTL|TTL, ASZMIC, or zero pad)
//	octets 2..4   24-bit sequence number, big-endian
//	octets 5..6   source address, big-endian
//	octets 7..8   destination address (network: zero pad)
//	octets 9..12  32-bit IV Index, big-endian

// Nonce is a 13-byte AES-CCM nonce.
type Nonce [NonceSize]byte

// Nonce type values (Table 3.43).
const (
	NonceTypeNetwork     = 0x00
	NonceTypeApplication = 0x01
	NonceTypeDevice      = 0x02
	NonceTypeProxy       = 0x03
)

// NetworkNonce builds the nonce protecting the Network PDU payload. The
// second octet packs the CTL bit above the 7-bit TTL; the destination slot
// is zero padding because DST is part of the encrypted payload.
func NetworkNonce(ctl bool, ttl uint8, seq uint32, src uint16, ivIndex uint32) Nonce {
	var n Nonce
	n[0] = NonceTypeNetwork
	n[1] = ttl & 0x7F
	if ctl {
		n[1] |= 0x80
	}
	putSeqSrcDstIV(&n, seq, src, 0x0000, ivIndex)
	return n
}

// ApplicationNonce builds the nonce for AppKey encryption at the Upper
// Transport layer. aszmic is set when a segmented message carries a 64-bit
// TransMIC.
func ApplicationNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) Nonce {
	return upperNonce(NonceTypeApplication, aszmic, seq, src, dst, ivIndex)
}

// DeviceNonce builds the nonce for DeviceKey encryption at the Upper
// Transport layer.
func DeviceNonce(aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) Nonce {
	return upperNonce(NonceTypeDevice, aszmic, seq, src, dst, ivIndex)
}

// ProxyNonce builds the nonce protecting Proxy Configuration messages. The
// second octet is zero padding and DST is always unassigned.
func ProxyNonce(seq uint32, src uint16, ivIndex uint32) Nonce {
	var n Nonce
	n[0] = NonceTypeProxy
	putSeqSrcDstIV(&n, seq, src, 0x0000, ivIndex)
	return n
}

func upperNonce(typ byte, aszmic bool, seq uint32, src, dst uint16, ivIndex uint32) Nonce {
	var n Nonce
	n[0] = typ
	if aszmic {
		n[1] = 0x80
	}
	putSeqSrcDstIV(&n, seq, src, dst, ivIndex)
	return n
}

func putSeqSrcDstIV(n *Nonce, seq uint32, src, dst uint16, ivIndex uint32) {
	n[2] = byte(seq >> 16)
	n[3] = byte(seq >> 8)
	n[4] = byte(seq)
	binary.BigEndian.PutUint16(n[5:7], src)
	binary.BigEndian.PutUint16(n[7:9], dst)
	binary.BigEndian.PutUint32(n[9:13], ivIndex)
}
