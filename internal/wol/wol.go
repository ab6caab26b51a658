// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package wol is the wake-on-LAN helper (spec.md §1's "external
// collaborator with a named contract"): it sends a magic packet to a
// MAC address over UDP broadcast. No third-party library in the
// retrieval pack covers this narrow a protocol, so it is a direct
// net.Dial user (see DESIGN.md).
package wol

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// Sender issues wake-on-LAN magic packets.
type Sender interface {
	Wake(mac string) error
}

type udpSender struct {
	broadcastAddr string
}

// New builds a Sender that broadcasts magic packets on the local subnet
// broadcast address (e.g. "255.255.255.255:9").
func New(broadcastAddr string) Sender {
	return udpSender{broadcastAddr: broadcastAddr}
}

func (s udpSender) Wake(mac string) error {
	packet, err := magicPacket(mac)
	if err != nil {
		return fmt.Errorf("building magic packet for %s: %w", mac, err)
	}
	conn, err := net.Dial("udp", s.broadcastAddr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.broadcastAddr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending magic packet to %s: %w", mac, err)
	}
	return nil
}

// magicPacket builds the standard 102-byte wake-on-LAN payload: six
// 0xFF bytes followed by the target MAC repeated sixteen times.
func magicPacket(mac string) ([]byte, error) {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(mac)
	addr, err := hex.DecodeString(cleaned)
	if err != nil || len(addr) != 6 {
		return nil, fmt.Errorf("invalid mac address %q", mac)
	}
	packet := make([]byte, 0, 102)
	for range 6 {
		packet = append(packet, 0xFF)
	}
	for range 16 {
		packet = append(packet, addr...)
	}
	return packet, nil
}
