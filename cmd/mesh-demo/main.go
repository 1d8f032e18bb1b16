// mesh-demo provisions a device over an in-memory PB-ADV link and then
// exchanges an encrypted access message between the two freshly keyed
// nodes.
//
// This binary demonstrates the full lower stack: the provisioning
// handshake (ECDH, confirmation, data distribution), network and
// transport encryption, and segmentation with acknowledgments.
//
// Usage:
//
//	mesh-demo [options]
//
// Options:
//
//	-address  Unicast address assigned to the device (default: 0x0002)
//	-ivindex  Initial IV Index of the subnet (default: 0)
//	-payload  Message sent to the device after provisioning
//	-verbose  Enable debug logging
//
// Example:
//
//	mesh-demo -address 0x0b0c -payload "hello mesh"
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/btmesh/btmesh/pkg/crypto"
	"github.com/btmesh/btmesh/pkg/mesh"
	"github.com/btmesh/btmesh/pkg/provisioning"
	"github.com/btmesh/btmesh/pkg/stack"
)

func main() {
	address := flag.Uint("address", 0x0002, "unicast address assigned to the device")
	ivIndex := flag.Uint("ivindex", 0, "initial IV Index of the subnet")
	payload := flag.String("payload", "hello mesh", "message sent to the device")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	netKey, err := crypto.RandomKey()
	if err != nil {
		log.Fatalf("Failed to generate network key: %v", err)
	}
	appKey, err := crypto.RandomKey()
	if err != nil {
		log.Fatalf("Failed to generate application key: %v", err)
	}
	data := provisioning.ProvisioningData{
		NetworkKey:     crypto.NetworkKey(netKey),
		KeyIndex:       0,
		IVIndex:        mesh.IVIndex(*ivIndex),
		UnicastAddress: mesh.UnicastAddress(*address),
	}

	gotData, deviceKey, err := provision(data, loggerFactory)
	if err != nil {
		log.Fatalf("Provisioning failed: %v", err)
	}
	fmt.Printf("provisioned device at %#04x, NetKey index %d, IV Index %d\n",
		gotData.UnicastAddress, gotData.KeyIndex, gotData.IVIndex)

	if err := exchange(gotData, deviceKey, crypto.ApplicationKey(appKey), []byte(*payload), loggerFactory); err != nil {
		log.Fatalf("Message exchange failed: %v", err)
	}
}

// provision runs the handshake between an in-memory provisioner and device,
// shuttling PB-ADV packets between the two links until both sessions
// complete.
func provision(data provisioning.ProvisioningData, loggerFactory logging.LoggerFactory) (*provisioning.ProvisioningData, crypto.DeviceKey, error) {
	deviceUUID := uuid.New()
	provLink := provisioning.NewLink(provisioning.LinkConfig{
		Role:          provisioning.RoleProvisioner,
		DeviceUUID:    deviceUUID,
		LoggerFactory: loggerFactory,
	})
	devLink := provisioning.NewLink(provisioning.LinkConfig{
		Role:          provisioning.RoleDevice,
		DeviceUUID:    deviceUUID,
		LoggerFactory: loggerFactory,
	})
	prov := provisioning.NewProvisioner(provisioning.ProvisionerConfig{
		Data:          data,
		LoggerFactory: loggerFactory,
	})
	dev := provisioning.NewDevice(provisioning.DeviceConfig{
		Capabilities: provisioning.Capabilities{
			NumElements: 1,
			Algorithms:  provisioning.AlgorithmFIPSP256,
		},
		LoggerFactory: loggerFactory,
	})

	open, err := provLink.Open()
	if err != nil {
		return nil, crypto.DeviceKey{}, err
	}
	toDevice := []*provisioning.Packet{open}
	var toProvisioner []*provisioning.Packet

	// step feeds one packet into a link and queues the responses going the
	// other way.
	step := func(link *provisioning.Link, pkt *provisioning.Packet,
		handle func(provisioning.PDU) ([]provisioning.PDU, error),
		back *[]*provisioning.Packet, onOpen func() ([]provisioning.PDU, error)) error {
		ev, replies, err := link.Handle(pkt)
		if err != nil {
			return err
		}
		*back = append(*back, replies...)

		var out []provisioning.PDU
		switch ev.Kind {
		case provisioning.EventOpened:
			if onOpen != nil {
				if out, err = onOpen(); err != nil {
					return err
				}
			}
		case provisioning.EventPDU:
			pdu, err := provisioning.Parse(ev.PDU)
			if err != nil {
				return err
			}
			if out, err = handle(pdu); err != nil {
				return err
			}
		}
		for _, pdu := range out {
			packets, err := link.Outbound(provisioning.Encode(pdu))
			if err != nil {
				return err
			}
			*back = append(*back, packets...)
		}
		return nil
	}

	invite := func() ([]provisioning.PDU, error) {
		pdu, err := prov.Invite()
		if err != nil {
			return nil, err
		}
		return []provisioning.PDU{pdu}, nil
	}

	for len(toDevice) > 0 || len(toProvisioner) > 0 {
		if len(toDevice) > 0 {
			pkt := toDevice[0]
			toDevice = toDevice[1:]
			if err := step(devLink, pkt, dev.Handle, &toProvisioner, nil); err != nil {
				return nil, crypto.DeviceKey{}, err
			}
			continue
		}
		pkt := toProvisioner[0]
		toProvisioner = toProvisioner[1:]
		if err := step(provLink, pkt, prov.Handle, &toDevice, invite); err != nil {
			return nil, crypto.DeviceKey{}, err
		}
	}

	if prov.State() != provisioning.StateComplete || dev.State() != provisioning.StateComplete {
		return nil, crypto.DeviceKey{}, fmt.Errorf("sessions ended in states %v / %v",
			prov.State(), dev.State())
	}
	return dev.Results()
}

// exchange keys two stack nodes with the provisioning output and sends the
// payload from the provisioner's node to the device's node.
func exchange(data *provisioning.ProvisioningData, deviceKey crypto.DeviceKey,
	appKey crypto.ApplicationKey, payload []byte, loggerFactory logging.LoggerFactory) error {
	newNode := func(addr mesh.UnicastAddress) (*stack.Node, error) {
		keys := stack.NewKeyring()
		keys.AddNetworkKey(data.KeyIndex, data.NetworkKey)
		keys.AddApplicationKey(0, appKey)
		keys.SetDeviceKey(deviceKey)
		return stack.NewNode(stack.Config{
			Address:       addr,
			IVIndex:       data.IVIndex,
			Keys:          keys,
			LoggerFactory: loggerFactory,
		})
	}

	provNode, err := newNode(0x0001)
	if err != nil {
		return err
	}
	devNode, err := newNode(data.UnicastAddress)
	if err != nil {
		return err
	}

	frames, err := provNode.Send(&stack.Message{
		Dst:     data.UnicastAddress.Address(),
		TTL:     stack.TTLUseDefault,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	for i, frame := range frames {
		fmt.Printf("frame %d: %x\n", i, frame)
		msg, responses, err := devNode.Receive(frame)
		if err != nil {
			return err
		}
		for _, resp := range responses {
			if _, _, err := provNode.Receive(resp); err != nil {
				return err
			}
		}
		if msg != nil {
			fmt.Printf("delivered %q from %#04x (AID %#02x)\n", msg.Payload, msg.Src, msg.AID)
			return nil
		}
	}

	fmt.Fprintln(os.Stderr, "message never completed")
	return fmt.Errorf("delivery failed")
}
