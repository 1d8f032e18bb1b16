package provisioning

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/btmesh/btmesh/pkg/bearer"
)

var testUUID = uuid.MustParse("70cf7c97-32a3-45b6-9149-4810d2e9cbf4")

func openLinkPair(t *testing.T) (*Link, *Link) {
	t.Helper()
	prov := NewLink(LinkConfig{Role: RoleProvisioner, DeviceUUID: testUUID})
	dev := NewLink(LinkConfig{Role: RoleDevice, DeviceUUID: testUUID})

	open, err := prov.Open()
	if err != nil {
		t.Fatal(err)
	}
	ev, replies, err := dev.Handle(open)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventOpened || len(replies) != 1 {
		t.Fatalf("device open event = %+v, replies = %d", ev, len(replies))
	}
	ev, _, err = prov.Handle(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventOpened {
		t.Fatalf("provisioner open event = %+v", ev)
	}
	if prov.State() != LinkOpened || dev.State() != LinkOpened {
		t.Fatalf("states = %v / %v", prov.State(), dev.State())
	}
	if prov.LinkID() != dev.LinkID() {
		t.Fatal("link IDs disagree")
	}
	return prov, dev
}

func TestLinkEstablishment(t *testing.T) {
	openLinkPair(t)
}

func TestLinkIgnoresForeignUUID(t *testing.T) {
	prov := NewLink(LinkConfig{Role: RoleProvisioner, DeviceUUID: testUUID})
	other := NewLink(LinkConfig{
		Role:       RoleDevice,
		DeviceUUID: uuid.MustParse("00000000-0000-0000-0000-00000000beef"),
	})
	open, err := prov.Open()
	if err != nil {
		t.Fatal(err)
	}
	ev, replies, err := other.Handle(open)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventNone || replies != nil {
		t.Errorf("foreign device reacted: %+v", ev)
	}
	if other.State() != LinkIdle {
		t.Errorf("state = %v, want Idle", other.State())
	}
}

func TestLinkReAcksLostLinkAck(t *testing.T) {
	prov := NewLink(LinkConfig{Role: RoleProvisioner, DeviceUUID: testUUID})
	dev := NewLink(LinkConfig{Role: RoleDevice, DeviceUUID: testUUID})

	open, err := prov.Open()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := dev.Handle(open); err != nil {
		t.Fatal(err)
	}
	// The provisioner never saw the ack and retransmits LinkOpen.
	ev, replies, err := dev.Handle(open)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventNone || len(replies) != 1 {
		t.Fatalf("retransmit handling: event = %+v, replies = %d", ev, len(replies))
	}
}

func TestLinkTransactionDelivery(t *testing.T) {
	prov, dev := openLinkPair(t)

	pdu := Encode(&Invite{AttentionDuration: 9})
	packets, err := prov.Outbound(pdu)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 1 {
		t.Fatalf("packets = %d", len(packets))
	}

	ev, replies, err := dev.Handle(packets[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventPDU || !bytes.Equal(ev.PDU, pdu) {
		t.Fatalf("event = %+v", ev)
	}
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want the transaction ack", len(replies))
	}
	ev, _, err = prov.Handle(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventAck {
		t.Errorf("event = %+v, want ack", ev)
	}
}

func TestLinkSegmentedTransactionDelivery(t *testing.T) {
	prov, dev := openLinkPair(t)

	var pub PublicKey
	for i := range pub.Key {
		pub.Key[i] = byte(i ^ 0x5A)
	}
	pdu := Encode(&pub)
	packets, err := prov.Outbound(pdu)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("packets = %d, want 3", len(packets))
	}

	var got []byte
	for _, pkt := range packets {
		ev, _, err := dev.Handle(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind == EventPDU {
			got = ev.PDU
		}
	}
	if !bytes.Equal(got, pdu) {
		t.Errorf("delivered = %x, want %x", got, pdu)
	}
}

func TestLinkTransactionTimeout(t *testing.T) {
	mock := clock.NewMock()
	prov := NewLink(LinkConfig{Role: RoleProvisioner, DeviceUUID: testUUID, Clock: mock})
	dev := NewLink(LinkConfig{Role: RoleDevice, DeviceUUID: testUUID, Clock: mock})

	open, err := prov.Open()
	if err != nil {
		t.Fatal(err)
	}
	_, replies, err := dev.Handle(open)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := prov.Handle(replies[0]); err != nil {
		t.Fatal(err)
	}

	var pub PublicKey
	packets, err := prov.Outbound(Encode(&pub))
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("packets = %d, want 3", len(packets))
	}

	// One segment arrives, then the transaction stalls past the timeout.
	if _, _, err := dev.Handle(packets[0]); err != nil {
		t.Fatal(err)
	}
	mock.Add(DefaultTransactionTimeout + time.Second)

	// The stragglers find no transaction to join.
	for _, pkt := range packets[1:] {
		ev, _, err := dev.Handle(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind != EventNone {
			t.Fatalf("late segment event = %+v", ev)
		}
	}

	// A full retransmission of the transaction still goes through.
	var got []byte
	for _, pkt := range packets {
		ev, _, err := dev.Handle(pkt)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Kind == EventPDU {
			got = ev.PDU
		}
	}
	if !bytes.Equal(got, Encode(&pub)) {
		t.Error("retransmitted transaction not delivered")
	}
}

func TestLinkReAcksDuplicateTransaction(t *testing.T) {
	prov, dev := openLinkPair(t)

	packets, err := prov.Outbound(Encode(&Invite{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := dev.Handle(packets[0]); err != nil {
		t.Fatal(err)
	}
	// Retransmission of the delivered transaction: no event, one ack.
	ev, replies, err := dev.Handle(packets[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventNone || len(replies) != 1 {
		t.Errorf("event = %+v, replies = %d", ev, len(replies))
	}
}

func TestLinkClose(t *testing.T) {
	prov, dev := openLinkPair(t)

	pkt, err := prov.Close(CloseFail)
	if err != nil {
		t.Fatal(err)
	}
	ev, _, err := dev.Handle(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventClosedByPeer || ev.Reason != CloseFail {
		t.Errorf("event = %+v", ev)
	}
	if dev.State() != LinkClosed {
		t.Errorf("device state = %v", dev.State())
	}
	if _, err := prov.Outbound([]byte{0x00}); err != ErrLinkClosed {
		t.Errorf("send on closed link: err = %v", err)
	}
}

func TestLinkIgnoresWrongLinkID(t *testing.T) {
	prov, dev := openLinkPair(t)

	packets, err := prov.Outbound(Encode(&Invite{}))
	if err != nil {
		t.Fatal(err)
	}
	packets[0].LinkID++
	ev, replies, err := dev.Handle(packets[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != EventNone || replies != nil {
		t.Errorf("foreign link packet processed: %+v", ev)
	}
}

// Full provisioning handshake over PB-ADV links connected by an in-memory
// bearer, exercising framing, segmentation and the protocol end to end.
func TestProvisioningOverLinkAndBearer(t *testing.T) {
	provBearer, devBearer := bearer.Pipe(bearer.PipeConfig{BufferSize: 64})
	defer provBearer.Close()

	provLink := NewLink(LinkConfig{Role: RoleProvisioner, DeviceUUID: testUUID})
	devLink := NewLink(LinkConfig{Role: RoleDevice, DeviceUUID: testUUID})
	prov := NewProvisioner(ProvisionerConfig{Data: testData(t)})
	dev := NewDevice(DeviceConfig{Capabilities: testCapabilities()})

	send := func(b bearer.Bearer, packets ...*Packet) {
		for _, pkt := range packets {
			raw, err := pkt.Encode()
			if err != nil {
				t.Error(err)
				return
			}
			if err := b.Send(raw); err != nil && err != bearer.ErrClosed {
				t.Error(err)
				return
			}
		}
	}

	// Each side runs a receive loop: frames in, link events out, session
	// responses back onto the bearer.
	loop := func(b bearer.Bearer, link *Link, handle func(PDU) ([]PDU, error), onOpen func()) {
		for {
			raw, err := b.Receive()
			if err != nil {
				return
			}
			pkt, err := ParsePacket(raw)
			if err != nil {
				t.Error(err)
				return
			}
			ev, replies, err := link.Handle(pkt)
			if err != nil {
				t.Error(err)
				return
			}
			send(b, replies...)
			switch ev.Kind {
			case EventOpened:
				if onOpen != nil {
					onOpen()
				}
			case EventPDU:
				pdu, err := Parse(ev.PDU)
				if err != nil {
					t.Error(err)
					return
				}
				out, err := handle(pdu)
				if err != nil {
					t.Error(err)
					return
				}
				for _, o := range out {
					packets, err := link.Outbound(Encode(o))
					if err != nil {
						t.Error(err)
						return
					}
					send(b, packets...)
				}
			}
		}
	}

	go loop(devBearer, devLink, dev.Handle, nil)
	go loop(provBearer, provLink, prov.Handle, func() {
		invite, err := prov.Invite()
		if err != nil {
			t.Error(err)
			return
		}
		packets, err := provLink.Outbound(Encode(invite))
		if err != nil {
			t.Error(err)
			return
		}
		send(provBearer, packets...)
	})

	open, err := provLink.Open()
	if err != nil {
		t.Fatal(err)
	}
	send(provBearer, open)

	deadline := time.Now().Add(5 * time.Second)
	for prov.State() != StateComplete || dev.State() != StateComplete {
		if time.Now().After(deadline) {
			t.Fatalf("states = %v / %v, want Complete", prov.State(), dev.State())
		}
		time.Sleep(time.Millisecond)
	}
	gotData, _, err := dev.Results()
	if err != nil {
		t.Fatal(err)
	}
	if gotData.UnicastAddress != 0x0B0C {
		t.Errorf("assigned address = %#x", gotData.UnicastAddress)
	}
}
