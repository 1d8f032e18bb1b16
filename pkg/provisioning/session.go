package provisioning

import (
	"crypto/rand"
	"sync"

	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/crypto"
)

// State is the protocol position of a provisioning session.
type State int

const (
	StateIdle State = iota
	StateWaitingCapabilities
	StateWaitingStart
	StateWaitingPublicKey
	StateWaitingConfirmation
	StateWaitingRandom
	StateWaitingData
	StateWaitingComplete
	StateComplete
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitingCapabilities:
		return "WaitingCapabilities"
	case StateWaitingStart:
		return "WaitingStart"
	case StateWaitingPublicKey:
		return "WaitingPublicKey"
	case StateWaitingConfirmation:
		return "WaitingConfirmation"
	case StateWaitingRandom:
		return "WaitingRandom"
	case StateWaitingData:
		return "WaitingData"
	case StateWaitingComplete:
		return "WaitingComplete"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ProvisionerConfig configures a provisioner session.
type ProvisionerConfig struct {
	// AttentionDuration is carried in the Invite, in seconds.
	AttentionDuration uint8

	// AuthValue is the out-of-band authentication value; zero for
	// AuthMethodNone.
	AuthValue AuthValue

	// AuthMethod selects how AuthValue was exchanged.
	AuthMethod uint8

	// Data is the network state to hand to the device.
	Data ProvisioningData

	// LoggerFactory creates the session logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Provisioner runs the provisioner side of the provisioning protocol. It
// is a synchronous state machine: the caller feeds decoded PDUs from the
// link and transmits the PDUs returned.
type Provisioner struct {
	mu     sync.Mutex
	config ProvisionerConfig
	state  State
	log    logging.LeveledLogger

	keyPair *crypto.P256KeyPair
	invite  *Invite
	caps    *Capabilities
	start   *Start

	secret           []byte
	confSalt         crypto.Salt
	confKey          [16]byte
	ownRandom        [16]byte
	peerConfirmation [16]byte

	deviceKey crypto.DeviceKey
}

// NewProvisioner creates an idle provisioner session.
func NewProvisioner(config ProvisionerConfig) *Provisioner {
	p := &Provisioner{config: config, state: StateIdle}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("provisioner")
	}
	return p
}

// State returns the session state.
func (p *Provisioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// DeviceKey returns the derived device key after the session completed.
func (p *Provisioner) DeviceKey() (crypto.DeviceKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateComplete {
		return crypto.DeviceKey{}, ErrUnexpectedPDU
	}
	return p.deviceKey, nil
}

// Invite starts the protocol once the link is open, returning the Invite
// PDU to send.
func (p *Provisioner) Invite() (PDU, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return nil, ErrUnexpectedPDU
	}
	p.invite = &Invite{AttentionDuration: p.config.AttentionDuration}
	p.transition(StateWaitingCapabilities)
	return p.invite, nil
}

// Handle processes one PDU from the device and returns the PDUs to send
// back. A confirmation mismatch fails the session: the returned PDUs then
// carry the Failed notification for the device and the error reports the
// cause; the caller closes the link.
func (p *Provisioner) Handle(pdu PDU) ([]PDU, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := pdu.(*Failed); ok {
		p.transition(StateFailed)
		if p.log != nil {
			p.log.Warnf("device reported failure: %#x", uint8(f.Code))
		}
		return nil, ErrSessionFailed
	}

	switch p.state {
	case StateWaitingCapabilities:
		caps, ok := pdu.(*Capabilities)
		if !ok {
			return p.fail(ErrorUnexpectedPDU)
		}
		return p.handleCapabilities(caps)
	case StateWaitingPublicKey:
		key, ok := pdu.(*PublicKey)
		if !ok {
			return p.fail(ErrorUnexpectedPDU)
		}
		return p.handlePublicKey(key)
	case StateWaitingConfirmation:
		conf, ok := pdu.(*Confirmation)
		if !ok {
			return p.fail(ErrorUnexpectedPDU)
		}
		p.peerConfirmation = conf.Value
		p.transition(StateWaitingRandom)
		return []PDU{&Random{Value: p.ownRandom}}, nil
	case StateWaitingRandom:
		random, ok := pdu.(*Random)
		if !ok {
			return p.fail(ErrorUnexpectedPDU)
		}
		return p.handleRandom(random)
	case StateWaitingComplete:
		if _, ok := pdu.(*Complete); !ok {
			return p.fail(ErrorUnexpectedPDU)
		}
		p.transition(StateComplete)
		return nil, nil
	default:
		return nil, ErrUnexpectedPDU
	}
}

func (p *Provisioner) handleCapabilities(caps *Capabilities) ([]PDU, error) {
	if caps.Algorithms&AlgorithmFIPSP256 == 0 {
		return p.fail(ErrorInvalidFormat)
	}
	p.caps = caps
	p.start = &Start{
		Algorithm:  0x00, // FIPS P-256
		AuthMethod: p.config.AuthMethod,
	}

	keyPair, err := crypto.GenerateP256KeyPair()
	if err != nil {
		return nil, err
	}
	p.keyPair = keyPair

	p.transition(StateWaitingPublicKey)
	return []PDU{p.start, &PublicKey{Key: keyPair.PublicKeyBytes()}}, nil
}

func (p *Provisioner) handlePublicKey(key *PublicKey) ([]PDU, error) {
	secret, err := p.keyPair.SharedSecret(key.Key)
	if err != nil {
		return p.fail(ErrorInvalidFormat)
	}
	p.secret = secret

	inputs := BuildConfirmationInputs(p.invite, p.caps, p.start,
		p.keyPair.PublicKeyBytes(), key.Key)
	p.confSalt = inputs.Salt()
	p.confKey = ConfirmationKey(secret, p.confSalt)

	if _, err := rand.Read(p.ownRandom[:]); err != nil {
		return nil, err
	}
	confirmation := ConfirmationValue(p.confKey, p.ownRandom, p.config.AuthValue)

	p.transition(StateWaitingConfirmation)
	return []PDU{&Confirmation{Value: confirmation}}, nil
}

func (p *Provisioner) handleRandom(random *Random) ([]PDU, error) {
	expected := ConfirmationValue(p.confKey, random.Value, p.config.AuthValue)
	if expected != p.peerConfirmation {
		out, _ := p.fail(ErrorConfirmationFailed)
		return out, ErrConfirmationMismatch
	}

	provSalt := ProvisioningSalt(p.confSalt, p.ownRandom, random.Value)
	keys := DeriveSessionKeys(p.secret, provSalt)
	p.deviceKey = keys.DeviceKey

	data, err := p.config.Data.Seal(keys)
	if err != nil {
		return nil, err
	}
	p.transition(StateWaitingComplete)
	return []PDU{data}, nil
}

// fail moves the session to Failed and emits the Failed PDU.
func (p *Provisioner) fail(code ErrorCode) ([]PDU, error) {
	p.transition(StateFailed)
	return []PDU{&Failed{Code: code}}, nil
}

func (p *Provisioner) transition(next State) {
	if p.log != nil {
		p.log.Debugf("state %s -> %s", p.state, next)
	}
	p.state = next
}
