// Package stack wires the layers into a node: a keyring for the security
// material, an outbound pipeline from access payload to Network PDUs, and
// an inbound pipeline from raw frames back to access payloads with
// reassembly, replay protection and relaying.
package stack

import (
	"errors"
	"sync"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
)

var (
	ErrUnknownNetKey = errors.New("stack: unknown network key index")
	ErrUnknownAppKey = errors.New("stack: unknown application key index")
	ErrNoDeviceKey   = errors.New("stack: no device key configured")
)

// Keyring holds a node's security material: network keys, application
// keys, the device key and the virtual-address labels the node is
// subscribed to. All derived material is computed once at insertion.
type Keyring struct {
	mu       sync.RWMutex
	networks map[mesh.KeyIndex]crypto.NetworkKeys
	apps     map[mesh.KeyIndex]crypto.ApplicationKeys
	device   *crypto.DeviceKey
	labels   map[mesh.Address][]mesh.VirtualLabel
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		networks: make(map[mesh.KeyIndex]crypto.NetworkKeys),
		apps:     make(map[mesh.KeyIndex]crypto.ApplicationKeys),
		labels:   make(map[mesh.Address][]mesh.VirtualLabel),
	}
}

// AddNetworkKey derives and stores the material of a NetKey.
func (k *Keyring) AddNetworkKey(index mesh.KeyIndex, key crypto.NetworkKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.networks[index] = crypto.DeriveNetworkKeys(key)
}

// NetworkKey returns the derived material of one NetKey.
func (k *Keyring) NetworkKey(index mesh.KeyIndex) (crypto.NetworkKeys, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.networks[index]
	if !ok {
		return crypto.NetworkKeys{}, ErrUnknownNetKey
	}
	return keys, nil
}

// NetworkKeys returns the material of every stored NetKey, the candidate
// set for decoding received PDUs.
func (k *Keyring) NetworkKeys() []crypto.NetworkKeys {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]crypto.NetworkKeys, 0, len(k.networks))
	for _, keys := range k.networks {
		out = append(out, keys)
	}
	return out
}

// AddApplicationKey derives and stores the material of an AppKey.
func (k *Keyring) AddApplicationKey(index mesh.KeyIndex, key crypto.ApplicationKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.apps[index] = crypto.DeriveApplicationKeys(key)
}

// ApplicationKey returns the derived material of one AppKey.
func (k *Keyring) ApplicationKey(index mesh.KeyIndex) (crypto.ApplicationKeys, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys, ok := k.apps[index]
	if !ok {
		return crypto.ApplicationKeys{}, ErrUnknownAppKey
	}
	return keys, nil
}

// ApplicationKeys returns the material of every stored AppKey.
func (k *Keyring) ApplicationKeys() []crypto.ApplicationKeys {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]crypto.ApplicationKeys, 0, len(k.apps))
	for _, keys := range k.apps {
		out = append(out, keys)
	}
	return out
}

// SetDeviceKey stores the node's device key, received during provisioning.
func (k *Keyring) SetDeviceKey(key crypto.DeviceKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.device = &key
}

// DeviceKey returns the node's device key.
func (k *Keyring) DeviceKey() (crypto.DeviceKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.device == nil {
		return crypto.DeviceKey{}, ErrNoDeviceKey
	}
	return *k.device, nil
}

// AddLabel subscribes the node to the virtual address of a label UUID and
// returns that address.
func (k *Keyring) AddLabel(label mesh.VirtualLabel) mesh.Address {
	addr := mesh.VirtualAddressFromHash(crypto.VirtualAddressHash([16]byte(label)))
	k.mu.Lock()
	defer k.mu.Unlock()
	k.labels[addr] = append(k.labels[addr], label)
	return addr
}

// Labels returns the label UUIDs subscribed under a virtual address. More
// than one label can hash to the same address.
func (k *Keyring) Labels(addr mesh.Address) []mesh.VirtualLabel {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.labels[addr]
}
