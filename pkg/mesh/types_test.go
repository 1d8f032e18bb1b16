package mesh

import "testing"

func TestTTLWithFlag(t *testing.T) {
	tests := []struct {
		ttl  TTL
		flag bool
		want uint8
	}{
		{0, false, 0x00},
		{0x7F, false, 0x7F},
		{0x7F, true, 0xFF},
		{0x0A, true, 0x8A},
	}
	for _, tt := range tests {
		if got := tt.ttl.WithFlag(tt.flag); got != tt.want {
			t.Errorf("TTL(%#x).WithFlag(%v) = %#x, want %#x", tt.ttl, tt.flag, got, tt.want)
		}
		ttl, flag := SplitTTL(tt.want)
		if ttl != tt.ttl || flag != tt.flag {
			t.Errorf("SplitTTL(%#x) = (%#x, %v), want (%#x, %v)", tt.want, ttl, flag, tt.ttl, tt.flag)
		}
	}
}

func TestSequenceNumberRoundTrip(t *testing.T) {
	var buf [3]byte
	for _, seq := range []SequenceNumber{0, 1, 0x3129AB, SequenceMax} {
		seq.PutBytes(buf[:])
		if got := SequenceFromBytes(buf[:]); got != seq {
			t.Errorf("SequenceFromBytes(PutBytes(%#x)) = %#x", seq, got)
		}
	}
}

func TestSeqZero(t *testing.T) {
	if got := SequenceNumber(0x3129AB).SeqZero(); got != 0x09AB {
		t.Errorf("SeqZero(0x3129AB) = %#x, want 0x09ab", got)
	}
}

func TestIVIndexAccepted(t *testing.T) {
	iv := IVIndex(0x12345678)
	if got := iv.Accepted(false); got != iv {
		t.Errorf("Accepted(matching IVI) = %#x, want %#x", got, iv)
	}
	if got := iv.Accepted(true); got != iv-1 {
		t.Errorf("Accepted(mismatched IVI) = %#x, want %#x", got, iv-1)
	}
}

func TestAddressType(t *testing.T) {
	tests := []struct {
		addr Address
		want AddressType
	}{
		{0x0000, AddressTypeUnassigned},
		{0x0001, AddressTypeUnicast},
		{0x7FFF, AddressTypeUnicast},
		{0x8000, AddressTypeVirtual},
		{0xBFFF, AddressTypeVirtual},
		{0xC000, AddressTypeGroup},
		{0xFFFF, AddressTypeGroup},
	}
	for _, tt := range tests {
		if got := tt.addr.Type(); got != tt.want {
			t.Errorf("Address(%#x).Type() = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestNewUnicastAddress(t *testing.T) {
	if _, err := NewUnicastAddress(0); err != ErrUnassignedAddress {
		t.Errorf("NewUnicastAddress(0) err = %v, want ErrUnassignedAddress", err)
	}
	if _, err := NewUnicastAddress(0x8000); err != ErrNotUnicast {
		t.Errorf("NewUnicastAddress(0x8000) err = %v, want ErrNotUnicast", err)
	}
	u, err := NewUnicastAddress(0x0003)
	if err != nil || u.Address() != 0x0003 {
		t.Errorf("NewUnicastAddress(0x0003) = (%#x, %v)", u, err)
	}
}

func TestCTLNetMICSize(t *testing.T) {
	if got := CTL(false).NetMICSize(); got != 4 {
		t.Errorf("access NetMIC size = %d, want 4", got)
	}
	if got := CTL(true).NetMICSize(); got != 8 {
		t.Errorf("control NetMIC size = %d, want 8", got)
	}
}
