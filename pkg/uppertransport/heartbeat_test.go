package uppertransport

import (
	"bytes"
	"testing"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	hb := &Heartbeat{InitTTL: 0x7F, Features: FeatureRelay | FeatureFriend}
	raw := hb.Encode()
	if !bytes.Equal(raw, []byte{0x7F, 0x00, 0x05}) {
		t.Errorf("Encode = %x", raw)
	}
	got, err := ParseHeartbeat(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.InitTTL != hb.InitTTL || got.Features != hb.Features {
		t.Errorf("parsed = %+v, want %+v", got, hb)
	}
}

func TestHeartbeatHops(t *testing.T) {
	hb := &Heartbeat{InitTTL: 7}
	if got := hb.Hops(5); got != 3 {
		t.Errorf("Hops = %d, want 3", got)
	}
}

func TestParseHeartbeatRejectsBadLength(t *testing.T) {
	if _, err := ParseHeartbeat([]byte{0x07}); err != ErrInvalidHeartbeat {
		t.Errorf("err = %v, want ErrInvalidHeartbeat", err)
	}
}
