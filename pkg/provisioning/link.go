package provisioning

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultTransactionTimeout discards a partially received transaction that
// makes no progress for this long (Section 5.3.1, transaction timeout).
const DefaultTransactionTimeout = 30 * time.Second

// Role distinguishes the two ends of a provisioning link.
type Role int

const (
	RoleProvisioner Role = iota
	RoleDevice
)

// LinkState is the PB-ADV link lifecycle.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkOpening
	LinkOpened
	LinkClosed
)

// String returns the state name.
func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "Idle"
	case LinkOpening:
		return "Opening"
	case LinkOpened:
		return "Open"
	case LinkClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EventKind classifies what a handled packet meant.
type EventKind int

const (
	// EventNone: the packet was consumed without visible effect
	// (duplicate, foreign link).
	EventNone EventKind = iota

	// EventOpened: the link is established.
	EventOpened

	// EventClosedByPeer: the peer closed the link.
	EventClosedByPeer

	// EventPDU: a complete provisioning PDU arrived.
	EventPDU

	// EventAck: the peer acknowledged our last transaction.
	EventAck
)

// Event is the outcome of handling one PB-ADV packet.
type Event struct {
	Kind   EventKind
	PDU    []byte
	Reason CloseReason
}

// LinkConfig configures a Link.
type LinkConfig struct {
	Role Role

	// DeviceUUID is the target device for a provisioner, or the local
	// identity for a device.
	DeviceUUID uuid.UUID

	// TransactionTimeout overrides DefaultTransactionTimeout when positive.
	TransactionTimeout time.Duration

	// Clock drives the transaction timer. Nil selects the real clock;
	// tests inject a mock.
	Clock clock.Clock

	// LoggerFactory creates the link logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Link drives the PB-ADV link layer for one provisioning session: link
// establishment, transaction numbering, segmentation and reassembly. It is
// transport-agnostic; callers move the returned packets over a bearer.
type Link struct {
	mu   sync.Mutex
	role Role
	uuid uuid.UUID
	log  logging.LeveledLogger

	state  LinkState
	linkID uint32
	tx     *TransactionNumbers

	clock      clock.Clock
	timeout    time.Duration
	reasm      *TransactionReassembler
	reasmTimer *clock.Timer
	reasmTxNum uint8
	lastAcked  uint8
	haveAcked  bool
}

// NewLink creates an idle link.
func NewLink(config LinkConfig) *Link {
	l := &Link{
		role:    config.Role,
		uuid:    config.DeviceUUID,
		clock:   config.Clock,
		timeout: config.TransactionTimeout,
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTransactionTimeout
	}
	if config.Role == RoleProvisioner {
		l.tx = ProvisionerTransactions()
	} else {
		l.tx = DeviceTransactions()
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("pbadv")
	}
	return l
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LinkID returns the link identifier, zero until established or opening.
func (l *Link) LinkID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.linkID
}

// Open starts link establishment (provisioner only) and returns the
// LinkOpen packet to transmit. The caller retransmits it until the device
// acknowledges.
func (l *Link) Open() (*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.role != RoleProvisioner || l.state != LinkIdle {
		return nil, ErrUnexpectedPDU
	}
	id, err := NewLinkID()
	if err != nil {
		return nil, err
	}
	l.linkID = id
	l.state = LinkOpening
	return l.control(&LinkOpen{DeviceUUID: l.uuid})
}

// Close tears the link down and returns the LinkClose packet to transmit,
// or nil when the link never left idle.
func (l *Link) Close(reason CloseReason) (*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropReassembly()
	if l.state == LinkIdle || l.state == LinkClosed {
		l.state = LinkClosed
		return nil, nil
	}
	l.state = LinkClosed
	return l.control(&LinkClose{Reason: reason})
}

// Outbound segments an encoded provisioning PDU into the packets of one
// transaction. All segments share a fresh transaction number.
func (l *Link) Outbound(pdu []byte) ([]*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkOpened {
		return nil, ErrLinkClosed
	}
	generics, err := SegmentTransaction(pdu)
	if err != nil {
		return nil, err
	}
	txNum := l.tx.Next()
	out := make([]*Packet, len(generics))
	for i, g := range generics {
		payload, err := g.EncodeGeneric()
		if err != nil {
			return nil, err
		}
		out[i] = &Packet{LinkID: l.linkID, TransactionNumber: txNum, Payload: payload}
	}
	return out, nil
}

// Handle processes one received PB-ADV packet. It returns the resulting
// event and any packets to send back (link or transaction acknowledgments).
func (l *Link) Handle(pkt *Packet) (*Event, []*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	generic, err := ParseGeneric(pkt.Payload)
	if err != nil {
		return nil, nil, err
	}

	if bc, ok := generic.(BearerControlPDU); ok {
		return l.handleBearerControl(pkt, bc)
	}

	if l.state != LinkOpened || pkt.LinkID != l.linkID {
		return &Event{Kind: EventNone}, nil, nil
	}

	switch g := generic.(type) {
	case *TransactionAck:
		return &Event{Kind: EventAck}, nil, nil
	case *TransactionStart:
		return l.handleSegment(pkt.TransactionNumber, func(r *TransactionReassembler) error {
			return r.ReceiveStart(g)
		})
	case *TransactionContinuation:
		return l.handleSegment(pkt.TransactionNumber, func(r *TransactionReassembler) error {
			return r.ReceiveContinuation(g)
		})
	default:
		return nil, nil, ErrInvalidGPCF
	}
}

func (l *Link) handleBearerControl(pkt *Packet, bc BearerControlPDU) (*Event, []*Packet, error) {
	switch p := bc.(type) {
	case *LinkOpen:
		if l.role != RoleDevice || p.DeviceUUID != l.uuid {
			return &Event{Kind: EventNone}, nil, nil
		}
		switch l.state {
		case LinkIdle:
			l.linkID = pkt.LinkID
			l.state = LinkOpened
			if l.log != nil {
				l.log.Infof("link %#x opened", l.linkID)
			}
			ack, err := l.controlPacket(&LinkAck{})
			if err != nil {
				return nil, nil, err
			}
			return &Event{Kind: EventOpened}, []*Packet{ack}, nil
		case LinkOpened:
			// Our LinkAck was lost; repeat it.
			if pkt.LinkID != l.linkID {
				return &Event{Kind: EventNone}, nil, nil
			}
			ack, err := l.controlPacket(&LinkAck{})
			if err != nil {
				return nil, nil, err
			}
			return &Event{Kind: EventNone}, []*Packet{ack}, nil
		default:
			return &Event{Kind: EventNone}, nil, nil
		}

	case *LinkAck:
		if l.role != RoleProvisioner || l.state != LinkOpening || pkt.LinkID != l.linkID {
			return &Event{Kind: EventNone}, nil, nil
		}
		l.state = LinkOpened
		if l.log != nil {
			l.log.Infof("link %#x opened", l.linkID)
		}
		return &Event{Kind: EventOpened}, nil, nil

	case *LinkClose:
		if pkt.LinkID != l.linkID || l.state == LinkIdle || l.state == LinkClosed {
			return &Event{Kind: EventNone}, nil, nil
		}
		l.state = LinkClosed
		if l.log != nil {
			l.log.Infof("link %#x closed by peer: %s", l.linkID, p.Reason)
		}
		return &Event{Kind: EventClosedByPeer, Reason: p.Reason}, nil, nil

	default:
		return nil, nil, ErrInvalidBearerOpcode
	}
}

func (l *Link) handleSegment(txNum uint8, feed func(*TransactionReassembler) error) (*Event, []*Packet, error) {
	// A repeated segment of an already delivered transaction means our
	// ack was lost; repeat the ack and drop the segment.
	if l.haveAcked && txNum == l.lastAcked {
		ack, err := l.ackPacket(txNum)
		if err != nil {
			return nil, nil, err
		}
		return &Event{Kind: EventNone}, []*Packet{ack}, nil
	}

	if l.reasm == nil || l.reasmTxNum != txNum {
		l.dropReassembly()
		l.reasm = NewTransactionReassembler()
		l.reasmTxNum = txNum
		l.startReassemblyTimer(l.reasm)
	}
	if err := feed(l.reasm); err != nil {
		if err == ErrDuplicateSegment || err == ErrNoTransaction {
			return &Event{Kind: EventNone}, nil, nil
		}
		return nil, nil, err
	}
	if !l.reasm.Complete() {
		return &Event{Kind: EventNone}, nil, nil
	}

	pdu, err := l.reasm.Assemble()
	l.dropReassembly()
	if err != nil {
		return nil, nil, err
	}
	l.lastAcked = txNum
	l.haveAcked = true
	ack, ackErr := l.ackPacket(txNum)
	if ackErr != nil {
		return nil, nil, ackErr
	}
	return &Event{Kind: EventPDU, PDU: pdu}, []*Packet{ack}, nil
}

// startReassemblyTimer arms the transaction timeout for a fresh partial
// transaction. The reassembler pointer guards against the timer firing
// after a newer transaction replaced it.
func (l *Link) startReassemblyTimer(r *TransactionReassembler) {
	l.reasmTimer = l.clock.AfterFunc(l.timeout, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.reasm != r {
			return
		}
		l.reasm = nil
		l.reasmTimer = nil
		if l.log != nil {
			l.log.Infof("transaction %#x timed out", l.reasmTxNum)
		}
	})
}

func (l *Link) dropReassembly() {
	if l.reasmTimer != nil {
		l.reasmTimer.Stop()
		l.reasmTimer = nil
	}
	l.reasm = nil
}

func (l *Link) control(pdu GenericPDU) (*Packet, error) {
	return l.controlPacket(pdu)
}

// controlPacket frames a bearer control PDU. Bearer control packets always
// use transaction number zero.
func (l *Link) controlPacket(pdu GenericPDU) (*Packet, error) {
	payload, err := pdu.EncodeGeneric()
	if err != nil {
		return nil, err
	}
	return &Packet{LinkID: l.linkID, TransactionNumber: 0, Payload: payload}, nil
}

func (l *Link) ackPacket(txNum uint8) (*Packet, error) {
	payload, err := (&TransactionAck{}).EncodeGeneric()
	if err != nil {
		return nil, err
	}
	return &Packet{LinkID: l.linkID, TransactionNumber: txNum, Payload: payload}, nil
}
