package stack

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/lowertransport"
	"github.com/btmesh/btmesh/pkg/mesh"
	"github.com/btmesh/btmesh/pkg/network"
	"github.com/btmesh/btmesh/pkg/uppertransport"
)

var (
	ErrSequenceExhausted = errors.New("stack: sequence number space exhausted")
	ErrInvalidTTL        = errors.New("stack: TTL exceeds 7 bits")
	ErrReplay            = errors.New("stack: message replays an already seen sequence")
)

// DefaultTTL is used when a message leaves the TTL unset.
const DefaultTTL mesh.TTL = 5

// TTLUseDefault marks a Message TTL as "use the node default".
const TTLUseDefault mesh.TTL = 0xFF

// Config configures a Node.
type Config struct {
	// Address is the node's primary element address.
	Address mesh.UnicastAddress

	// IVIndex is the subnet's current IV Index.
	IVIndex mesh.IVIndex

	// Keys holds the node's security material.
	Keys *Keyring

	// DefaultTTL overrides the package default when nonzero.
	DefaultTTL mesh.TTL

	// Relay enables forwarding of PDUs addressed to other nodes.
	Relay bool

	// ReassemblyTimeout overrides the incomplete-message timer.
	ReassemblyTimeout time.Duration

	// OnSegmentAck, when set, receives Segment Acknowledgments so a
	// sender can drive retransmission.
	OnSegmentAck func(src mesh.UnicastAddress, ack *lowertransport.SegmentAck)

	// Clock drives reassembly timers. Nil selects the real clock.
	Clock clock.Clock

	// LoggerFactory creates the node logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Message is an outbound access message.
type Message struct {
	// NetKeyIndex selects the subnet.
	NetKeyIndex mesh.KeyIndex

	// AppKeyIndex selects the application key; ignored with
	// UseDeviceKey.
	AppKeyIndex  mesh.KeyIndex
	UseDeviceKey bool

	Dst mesh.Address

	// Label is required when Dst is a virtual address.
	Label *mesh.VirtualLabel

	// TTL of the Network PDUs; TTLUseDefault picks the node default.
	TTL mesh.TTL

	// SZMIC requests a 64-bit TransMIC (forces segmentation).
	SZMIC bool

	// Segmented forces segmentation even for short payloads, buying
	// acknowledged delivery.
	Segmented bool

	Payload []byte
}

// Inbound is a received message delivered to the access layer (or, for
// control opcodes other than Segment Acknowledgment, to the caller).
type Inbound struct {
	Src       mesh.UnicastAddress
	Dst       mesh.Address
	TTL       mesh.TTL
	Seq       mesh.SequenceNumber
	Segmented bool

	// Control marks a transport control message; Opcode and Params are
	// set instead of Payload.
	Control bool
	Opcode  lowertransport.ControlOpcode
	Params  []byte

	// UsedDeviceKey reports device-key protection; otherwise AID names
	// the application key.
	UsedDeviceKey bool
	AID           mesh.AID

	Payload []byte
}

// Node is one mesh node: it turns access payloads into Network PDU frames
// and raw frames back into access payloads.
type Node struct {
	config Config
	log    logging.LeveledLogger

	mu            sync.Mutex
	seq           mesh.SequenceNumber
	ivIndex       mesh.IVIndex
	subscriptions map[mesh.Address]struct{}

	replay *network.ReplayCache
	reasm  *lowertransport.Reassembler
	relay  *network.Relay
}

// NewNode creates a node from its configuration.
func NewNode(config Config) (*Node, error) {
	if _, err := mesh.NewUnicastAddress(uint16(config.Address)); err != nil {
		return nil, err
	}
	if config.Keys == nil {
		config.Keys = NewKeyring()
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = DefaultTTL
	}

	relay, err := network.NewRelay(network.RelayConfig{LoggerFactory: config.LoggerFactory})
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:        config,
		ivIndex:       config.IVIndex,
		subscriptions: make(map[mesh.Address]struct{}),
		replay:        network.NewReplayCache(),
		relay:         relay,
	}
	n.reasm = lowertransport.NewReassembler(lowertransport.ReassemblerConfig{
		IncompleteTimeout: config.ReassemblyTimeout,
		Clock:             config.Clock,
		LoggerFactory:     config.LoggerFactory,
	})
	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}
	return n, nil
}

// Subscribe registers interest in a group address.
func (n *Node) Subscribe(addr mesh.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscriptions[addr] = struct{}{}
}

// IVIndex returns the node's current IV Index.
func (n *Node) IVIndex() mesh.IVIndex {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ivIndex
}

// SetIVIndex moves the node to a new IV Index after an IV update.
func (n *Node) SetIVIndex(iv mesh.IVIndex) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ivIndex = iv
}

func (n *Node) nextSeq() (mesh.SequenceNumber, error) {
	if n.seq > mesh.SequenceMax {
		return 0, ErrSequenceExhausted
	}
	seq := n.seq
	n.seq++
	return seq, nil
}

// Send encrypts and encodes an access message, returning the Network PDU
// frames to hand to the bearer.
func (n *Node) Send(msg *Message) ([][]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ttl := msg.TTL
	if ttl == TTLUseDefault {
		ttl = n.config.DefaultTTL
	}
	if !ttl.Valid() {
		return nil, ErrInvalidTTL
	}

	netKeys, err := n.config.Keys.NetworkKey(msg.NetKeyIndex)
	if err != nil {
		return nil, err
	}

	seq0, err := n.nextSeq()
	if err != nil {
		return nil, err
	}

	params := uppertransport.Params{
		SZMIC:   msg.SZMIC,
		Seq:     seq0,
		Src:     n.config.Address,
		Dst:     msg.Dst,
		IVIndex: n.ivIndex,
		Label:   msg.Label,
	}

	var upperPDU []byte
	var akf bool
	var aid mesh.AID
	if msg.UseDeviceKey {
		devKey, err := n.config.Keys.DeviceKey()
		if err != nil {
			return nil, err
		}
		upperPDU, err = uppertransport.SealDevice(devKey, params, msg.Payload)
		if err != nil {
			return nil, err
		}
	} else {
		appKeys, err := n.config.Keys.ApplicationKey(msg.AppKeyIndex)
		if err != nil {
			return nil, err
		}
		akf = true
		aid = mesh.AID(appKeys.AID)
		upperPDU, err = uppertransport.SealApp(&appKeys, params, msg.Payload)
		if err != nil {
			return nil, err
		}
	}

	segmented := msg.Segmented || msg.SZMIC ||
		len(upperPDU) > lowertransport.MaxUnsegmentedAccessLen

	if !segmented {
		lower := &lowertransport.UnsegmentedAccess{AKF: akf, AID: aid, UpperPDU: upperPDU}
		frame, err := n.encodeNetwork(&netKeys, false, ttl, seq0, msg.Dst, lower)
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}

	segments, err := lowertransport.SegmentAccessMessage(akf, aid, msg.SZMIC, seq0.SeqZero(), upperPDU)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, len(segments))
	for i, seg := range segments {
		seq := seq0
		if i > 0 {
			if seq, err = n.nextSeq(); err != nil {
				return nil, err
			}
		}
		if frames[i], err = n.encodeNetwork(&netKeys, false, ttl, seq, msg.Dst, seg); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

// Receive processes one raw frame from the bearer. It returns the
// delivered message (nil while a segmented message is still incomplete or
// the frame was not for this node) plus any frames to transmit back:
// segment acknowledgments and relayed PDUs.
func (n *Node) Receive(raw []byte) (*Inbound, [][]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// The message cache absorbs copies flooded back via relays.
	if n.relay.Cached(raw) {
		return nil, nil, nil
	}

	pdu, usedKey, err := network.Decode(raw, n.config.Keys.NetworkKeys(), n.ivIndex)
	if err != nil {
		return nil, nil, err
	}
	pduIV := n.ivIndex.Accepted(pdu.IVI)

	var frames [][]byte
	local := n.config.Address
	if n.config.Relay && pdu.Dst != local.Address() {
		forwarded, err := n.relay.Outgoing(pdu, usedKey, n.ivIndex, local)
		if err == nil && forwarded != nil {
			frames = append(frames, forwarded)
		}
	}

	if !n.interested(pdu.Dst) {
		return nil, frames, nil
	}

	lower, err := lowertransport.Parse(pdu.CTL, pdu.TransportPDU)
	if err != nil {
		return nil, frames, err
	}

	switch l := lower.(type) {
	case *lowertransport.UnsegmentedAccess:
		msg, err := n.deliverAccess(pdu, pduIV, pdu.Seq, false, l.AKF, l.AID, l.UpperPDU, false)
		return msg, frames, err

	case *lowertransport.SegmentedAccess:
		return n.receiveAccessSegment(pdu, pduIV, usedKey, l, frames)

	case *lowertransport.UnsegmentedControl:
		msg, err := n.deliverControl(pdu, pduIV, pdu.Seq, false, l.Opcode, l.Parameters)
		return msg, frames, err

	case *lowertransport.SegmentedControl:
		return n.receiveControlSegment(pdu, pduIV, usedKey, l, frames)

	default:
		return nil, frames, nil
	}
}

// interested reports whether the destination concerns this node.
func (n *Node) interested(dst mesh.Address) bool {
	switch dst.Type() {
	case mesh.AddressTypeUnicast:
		return dst == n.config.Address.Address()
	case mesh.AddressTypeGroup:
		if dst == mesh.AddressAllNodes {
			return true
		}
		_, ok := n.subscriptions[dst]
		return ok
	case mesh.AddressTypeVirtual:
		return len(n.config.Keys.Labels(dst)) > 0
	default:
		return false
	}
}

func (n *Node) receiveAccessSegment(pdu *network.PDU, pduIV mesh.IVIndex, usedKey *crypto.NetworkKeys, seg *lowertransport.SegmentedAccess, frames [][]byte) (*Inbound, [][]byte, error) {
	assembled, ack, err := n.reasm.ReceiveAccess(pdu.Src, seg)
	frames = n.appendAck(frames, pdu, usedKey, ack)
	if err != nil || assembled == nil {
		return nil, frames, nil
	}

	seqAuth := seqAuth(pdu.Seq, assembled.SeqZero)
	msg, err := n.deliverAccess(pdu, pduIV, seqAuth, assembled.SZMIC,
		assembled.AKF, assembled.AID, assembled.UpperPDU, true)
	return msg, frames, err
}

func (n *Node) receiveControlSegment(pdu *network.PDU, pduIV mesh.IVIndex, usedKey *crypto.NetworkKeys, seg *lowertransport.SegmentedControl, frames [][]byte) (*Inbound, [][]byte, error) {
	assembled, ack, err := n.reasm.ReceiveControl(pdu.Src, seg)
	frames = n.appendAck(frames, pdu, usedKey, ack)
	if err != nil || assembled == nil {
		return nil, frames, nil
	}

	seqAuth := seqAuth(pdu.Seq, assembled.SeqZero)
	msg, err := n.deliverControl(pdu, pduIV, seqAuth, true, assembled.Opcode, assembled.Parameters)
	return msg, frames, err
}

// appendAck encodes a Segment Acknowledgment back to the sender when the
// segment was addressed to us directly.
func (n *Node) appendAck(frames [][]byte, pdu *network.PDU, usedKey *crypto.NetworkKeys, ack *lowertransport.SegmentAck) [][]byte {
	if ack == nil || pdu.Dst != n.config.Address.Address() {
		return frames
	}
	lower := ack.ToControl()
	frame, err := n.encodeNetwork(usedKey, true, n.config.DefaultTTL, 0, pdu.Src.Address(), lower)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("dropping segment ack: %v", err)
		}
		return frames
	}
	return append(frames, frame)
}

func (n *Node) deliverAccess(pdu *network.PDU, pduIV mesh.IVIndex, seqAuth mesh.SequenceNumber, szmic bool, akf bool, aid mesh.AID, upperPDU []byte, segmented bool) (*Inbound, error) {
	if n.replay.Replay(pdu.Src, seqAuth, pduIV) {
		return nil, ErrReplay
	}

	params := uppertransport.Params{
		SZMIC:   szmic,
		Seq:     seqAuth,
		Src:     pdu.Src,
		Dst:     pdu.Dst,
		IVIndex: pduIV,
	}

	msg := &Inbound{
		Src:       pdu.Src,
		Dst:       pdu.Dst,
		TTL:       pdu.TTL,
		Seq:       seqAuth,
		Segmented: segmented,
	}

	var payload []byte
	var err error
	if akf {
		var used *crypto.ApplicationKeys
		payload, used, err = n.openAppCandidates(aid, params, upperPDU, pdu.Dst)
		if err != nil {
			return nil, err
		}
		msg.AID = mesh.AID(used.AID)
	} else {
		devKey, keyErr := n.config.Keys.DeviceKey()
		if keyErr != nil {
			return nil, keyErr
		}
		payload, err = uppertransport.OpenDevice(devKey, params, upperPDU)
		if err != nil {
			return nil, err
		}
		msg.UsedDeviceKey = true
	}
	msg.Payload = payload

	n.replay.Commit(pdu.Src, seqAuth, pduIV)
	return msg, nil
}

// openAppCandidates tries every subscribed label of a virtual destination
// in addition to the AID candidate keys.
func (n *Node) openAppCandidates(aid mesh.AID, params uppertransport.Params, upperPDU []byte, dst mesh.Address) ([]byte, *crypto.ApplicationKeys, error) {
	keys := n.config.Keys.ApplicationKeys()
	if dst.Type() != mesh.AddressTypeVirtual {
		return uppertransport.OpenApp(keys, aid, params, upperPDU)
	}
	for _, label := range n.config.Keys.Labels(dst) {
		label := label
		params.Label = &label
		payload, used, err := uppertransport.OpenApp(keys, aid, params, upperPDU)
		if err == nil {
			return payload, used, nil
		}
	}
	return nil, nil, uppertransport.ErrNoMatchingAppKey
}

func (n *Node) deliverControl(pdu *network.PDU, pduIV mesh.IVIndex, seqAuth mesh.SequenceNumber, segmented bool, opcode lowertransport.ControlOpcode, params []byte) (*Inbound, error) {
	if n.replay.Replay(pdu.Src, seqAuth, pduIV) {
		return nil, ErrReplay
	}
	n.replay.Commit(pdu.Src, seqAuth, pduIV)

	if opcode == lowertransport.OpcodeSegmentAck {
		ctl := &lowertransport.UnsegmentedControl{Opcode: opcode, Parameters: params}
		ack, err := lowertransport.ParseSegmentAck(ctl)
		if err != nil {
			return nil, err
		}
		if n.config.OnSegmentAck != nil {
			n.config.OnSegmentAck(pdu.Src, ack)
		}
		return nil, nil
	}

	return &Inbound{
		Src:       pdu.Src,
		Dst:       pdu.Dst,
		TTL:       pdu.TTL,
		Seq:       seqAuth,
		Segmented: segmented,
		Control:   true,
		Opcode:    opcode,
		Params:    params,
	}, nil
}

// encodeNetwork wraps a lower transport PDU into an encrypted Network PDU
// frame. A zero seq allocates the next sequence number.
func (n *Node) encodeNetwork(keys *crypto.NetworkKeys, ctl bool, ttl mesh.TTL, seq mesh.SequenceNumber, dst mesh.Address, lower lowertransport.PDU) ([]byte, error) {
	transportPDU, err := lower.Encode()
	if err != nil {
		return nil, err
	}
	if ctl {
		if seq, err = n.nextSeq(); err != nil {
			return nil, err
		}
	}
	pdu := &network.PDU{
		CTL:          mesh.CTL(ctl),
		TTL:          ttl,
		Seq:          seq,
		Src:          n.config.Address,
		Dst:          dst,
		TransportPDU: transportPDU,
	}
	return pdu.Encode(keys, n.ivIndex)
}

// seqAuth reconstructs the sequence number authenticated by a segmented
// message: the largest value not above the completing segment's sequence
// whose low 13 bits equal SeqZero.
func seqAuth(seq mesh.SequenceNumber, seqZero mesh.SeqZero) mesh.SequenceNumber {
	a := (seq &^ mesh.SeqZeroMax) | mesh.SequenceNumber(seqZero)
	if a > seq {
		a -= mesh.SeqZeroMax + 1
	}
	return a
}
