package provisioning

import (
	"crypto/rand"
	"sync"

	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/crypto"
)

// DeviceConfig configures a device-side session.
type DeviceConfig struct {
	// Capabilities advertised in response to the Invite.
	Capabilities Capabilities

	// AuthValue is the out-of-band authentication value; zero for
	// AuthMethodNone.
	AuthValue AuthValue

	// LoggerFactory creates the session logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Device runs the device (provisionee) side of the provisioning protocol,
// mirroring the Provisioner state machine.
type Device struct {
	mu     sync.Mutex
	config DeviceConfig
	state  State
	log    logging.LeveledLogger

	keyPair *crypto.P256KeyPair
	invite  *Invite
	start   *Start

	secret           []byte
	confSalt         crypto.Salt
	confKey          [16]byte
	ownRandom        [16]byte
	peerConfirmation [16]byte
	peerRandom       [16]byte

	data      *ProvisioningData
	deviceKey crypto.DeviceKey
}

// NewDevice creates an idle device session.
func NewDevice(config DeviceConfig) *Device {
	d := &Device{config: config, state: StateIdle}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("provisionee")
	}
	return d
}

// State returns the session state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Results returns the provisioning data and derived device key after the
// session completed.
func (d *Device) Results() (*ProvisioningData, crypto.DeviceKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateComplete {
		return nil, crypto.DeviceKey{}, ErrUnexpectedPDU
	}
	return d.data, d.deviceKey, nil
}

// Handle processes one PDU from the provisioner and returns the PDUs to
// send back.
func (d *Device) Handle(pdu PDU) ([]PDU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := pdu.(*Failed); ok {
		d.transition(StateFailed)
		if d.log != nil {
			d.log.Warnf("provisioner reported failure: %#x", uint8(f.Code))
		}
		return nil, ErrSessionFailed
	}

	switch d.state {
	case StateIdle:
		invite, ok := pdu.(*Invite)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		d.invite = invite
		d.transition(StateWaitingStart)
		caps := d.config.Capabilities
		return []PDU{&caps}, nil

	case StateWaitingStart:
		start, ok := pdu.(*Start)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		d.start = start
		d.transition(StateWaitingPublicKey)
		return nil, nil

	case StateWaitingPublicKey:
		key, ok := pdu.(*PublicKey)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		return d.handlePublicKey(key)

	case StateWaitingConfirmation:
		conf, ok := pdu.(*Confirmation)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		return d.handleConfirmation(conf)

	case StateWaitingRandom:
		random, ok := pdu.(*Random)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		return d.handleRandom(random)

	case StateWaitingData:
		data, ok := pdu.(*Data)
		if !ok {
			return d.fail(ErrorUnexpectedPDU)
		}
		return d.handleData(data)

	default:
		return nil, ErrUnexpectedPDU
	}
}

func (d *Device) handlePublicKey(key *PublicKey) ([]PDU, error) {
	keyPair, err := crypto.GenerateP256KeyPair()
	if err != nil {
		return nil, err
	}
	d.keyPair = keyPair

	secret, err := keyPair.SharedSecret(key.Key)
	if err != nil {
		return d.fail(ErrorInvalidFormat)
	}
	d.secret = secret

	caps := d.config.Capabilities
	inputs := BuildConfirmationInputs(d.invite, &caps, d.start,
		key.Key, keyPair.PublicKeyBytes())
	d.confSalt = inputs.Salt()
	d.confKey = ConfirmationKey(secret, d.confSalt)

	d.transition(StateWaitingConfirmation)
	return []PDU{&PublicKey{Key: keyPair.PublicKeyBytes()}}, nil
}

func (d *Device) handleConfirmation(conf *Confirmation) ([]PDU, error) {
	d.peerConfirmation = conf.Value
	if _, err := rand.Read(d.ownRandom[:]); err != nil {
		return nil, err
	}
	confirmation := ConfirmationValue(d.confKey, d.ownRandom, d.config.AuthValue)
	d.transition(StateWaitingRandom)
	return []PDU{&Confirmation{Value: confirmation}}, nil
}

func (d *Device) handleRandom(random *Random) ([]PDU, error) {
	expected := ConfirmationValue(d.confKey, random.Value, d.config.AuthValue)
	if expected != d.peerConfirmation {
		out, _ := d.fail(ErrorConfirmationFailed)
		return out, ErrConfirmationMismatch
	}
	d.peerRandom = random.Value
	d.transition(StateWaitingData)
	return []PDU{&Random{Value: d.ownRandom}}, nil
}

func (d *Device) handleData(data *Data) ([]PDU, error) {
	provSalt := ProvisioningSalt(d.confSalt, d.peerRandom, d.ownRandom)
	keys := DeriveSessionKeys(d.secret, provSalt)

	provData, err := OpenData(data, keys)
	if err != nil {
		return d.fail(ErrorDecryptionFailed)
	}
	d.data = provData
	d.deviceKey = keys.DeviceKey
	d.transition(StateComplete)
	return []PDU{&Complete{}}, nil
}

// fail moves the session to Failed and emits the Failed PDU.
func (d *Device) fail(code ErrorCode) ([]PDU, error) {
	d.transition(StateFailed)
	return []PDU{&Failed{Code: code}}, nil
}

func (d *Device) transition(next State) {
	if d.log != nil {
		d.log.Debugf("state %s -> %s", d.state, next)
	}
	d.state = next
}
