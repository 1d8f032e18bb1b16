package crypto

// Key derivation functions s1, k1, k2, k3 and k4 from Mesh Profile
// Specification Section 3.8.2. All of them bottom out in AES-CMAC.

// Salt is a 16-byte derivation salt produced by S1.
type Salt [16]byte

// S1 computes the SALT generation function s1(M) = AES-CMAC(ZERO, M)
// (Section 3.8.2.4).
func S1(m []byte) Salt {
	var zero [KeySize]byte
	c, _ := NewCMAC(zero[:])
	return Salt(c.Sum(m))
}

// K1 derives a 16-byte key from key material N, a salt and info P:
// k1(N, SALT, P) = AES-CMAC(AES-CMAC(SALT, N), P) (Section 3.8.2.5).
func K1(n []byte, salt Salt, p []byte) [16]byte {
	t, _ := AESCMAC(salt[:], n)
	out, _ := AESCMAC(t[:], p)
	return out
}

// K2Output holds the master security credentials derived by k2.
type K2Output struct {
	NID           uint8
	EncryptionKey [16]byte
	PrivacyKey    [16]byte
}

// K2 derives the NID, EncryptionKey and PrivacyKey from a network key and
// info P (Section 3.8.2.6). P is 0x00 for the master credentials; the friend
// credential material uses a longer P.
func K2(n, p []byte) K2Output {
	salt := S1([]byte("smk2"))
	t, _ := AESCMAC(salt[:], n)
	c, _ := NewCMAC(t[:])

	buf := make([]byte, 0, 16+len(p)+1)

	// T1 = AES-CMAC(T, P || 0x01)
	buf = append(buf, p...)
	buf = append(buf, 0x01)
	t1 := c.Sum(buf)

	// T2 = AES-CMAC(T, T1 || P || 0x02)
	buf = buf[:0]
	buf = append(buf, t1[:]...)
	buf = append(buf, p...)
	buf = append(buf, 0x02)
	t2 := c.Sum(buf)

	// T3 = AES-CMAC(T, T2 || P || 0x03)
	buf = buf[:0]
	buf = append(buf, t2[:]...)
	buf = append(buf, p...)
	buf = append(buf, 0x03)
	t3 := c.Sum(buf)

	return K2Output{
		NID:           t1[15] & 0x7F,
		EncryptionKey: t2,
		PrivacyKey:    t3,
	}
}

// K3 derives the 8-byte Network ID advertised in Secure Network beacons
// (Section 3.8.2.7).
func K3(n []byte) [8]byte {
	salt := S1([]byte("smk3"))
	t, _ := AESCMAC(salt[:], n)
	out, _ := AESCMAC(t[:], []byte("id64\x01"))
	var id [8]byte
	copy(id[:], out[8:16])
	return id
}

// K4 derives the 6-bit AID identifying an application key on the wire
// (Section 3.8.2.8).
func K4(n []byte) uint8 {
	salt := S1([]byte("smk4"))
	t, _ := AESCMAC(salt[:], n)
	out, _ := AESCMAC(t[:], []byte("id6\x01"))
	return out[15] & 0x3F
}

// VirtualAddressHash computes the 14-bit hash of a virtual-address label
// UUID: AES-CMAC(s1("vtad"), Label)[14:16] mod 2^14 (Section 3.4.2.3).
func VirtualAddressHash(label [16]byte) uint16 {
	salt := S1([]byte("vtad"))
	sum, _ := AESCMAC(salt[:], label[:])
	return uint16(sum[14])<<8&0x3F00 | uint16(sum[15])
}
