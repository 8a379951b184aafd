// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

/*
Packet layout, big endian:

	+--------------------+---------+------------------------------------------+
	| Field              | Type    | Description                              |
	+--------------------+---------+------------------------------------------+
	| Magic              | [4]byte | "WSPC"                                   |
	| Sequence           | uint32  | increments per packet                    |
	| Timestamp          | int64   | nanoseconds since epoch                  |
	| State              | uint8   | capture.State                            |
	| Utilization        | uint8   | buffer fill percent                      |
	| Current            | float32 | normalised RMS level                     |
	| Peak               | float32 | held peak level                          |
	| Average            | float32 | rolling average level                    |
	| BufferedMs         | float32 | audio waiting in the buffer              |
	| Evicted            | uint64  | samples dropped on overflow              |
	| Underruns          | uint64  | short pulls                              |
	| BandLevelDB        | float32 | passband energy                          |
	| PeakHz             | float32 | strongest passband bin                   |
	| MagnitudeCount     | uint16  | N                                        |
	+--------------------+---------+------------------------------------------+
	| Magnitudes         | N x float32 spectrum bins                          |
	+--------------------+----------------------------------------------------+
*/

var packetMagic = [4]byte{'W', 'S', 'P', 'C'}

// HeaderSize is the encoded size of Header.
var HeaderSize = binary.Size(Header{})

// Header is the fixed part of a monitor packet.
type Header struct {
	Magic          [4]byte
	Sequence       uint32
	Timestamp      int64
	State          uint8
	Utilization    uint8
	Current        float32
	Peak           float32
	Average        float32
	BufferedMs     float32
	Evicted        uint64
	Underruns      uint64
	BandLevelDB    float32
	PeakHz         float32
	MagnitudeCount uint16
}

// Packet is a decoded monitor datagram.
type Packet struct {
	Header
	Magnitudes []float32
}

var errBadMagic = errors.New("not a wsprcap monitor packet")

// encodePacket writes h and magnitudes into buf, replacing its contents.
func encodePacket(buf *bytes.Buffer, h Header, magnitudes []float32) error {
	buf.Reset()
	h.Magic = packetMagic
	h.MagnitudeCount = uint16(len(magnitudes))
	if err := binary.Write(buf, binary.BigEndian, h); err != nil {
		return err
	}
	if len(magnitudes) == 0 {
		return nil
	}
	return binary.Write(buf, binary.BigEndian, magnitudes)
}

// DecodePacket parses a datagram produced by UDPPublisher.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	r := bytes.NewReader(b)

	var p Packet
	if err := binary.Read(r, binary.BigEndian, &p.Header); err != nil {
		return nil, err
	}
	if p.Magic != packetMagic {
		return nil, errBadMagic
	}
	if want := HeaderSize + 4*int(p.MagnitudeCount); len(b) != want {
		return nil, fmt.Errorf("packet length %d, want %d for %d bins", len(b), want, p.MagnitudeCount)
	}
	p.Magnitudes = make([]float32, p.MagnitudeCount)
	if err := binary.Read(r, binary.BigEndian, p.Magnitudes); err != nil {
		return nil, err
	}
	return &p, nil
}
