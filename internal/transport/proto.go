package transport

import "encoding/binary"

// Application packet type tags. Every delivered payload starts with one of
// these, followed by the body.
const (
	TypeConnect      byte = 0
	TypeDisconnect   byte = 1
	TypeAuthRequest  byte = 2
	TypeAuthResponse byte = 3
	TypePlayerMove   byte = 4
	TypePlayerAction byte = 5
	TypeChatMessage  byte = 6
	TypeWorldState   byte = 7
	TypeRPCCall      byte = 8
	TypeBroadcast    byte = 9
	TypeRemoteCall   byte = 0x20
)

// Datagram framing. Control packets manage the session; data packets carry
// application payloads with a small ordering header.
//
//	ctrl:  kind(u8) [∥ ack: channel(u8) ∥ seq(u16 LE)]
//	data:  0x01 ∥ flags(u8) ∥ channel(u8) ∥ seq(u16 LE) ∥ payload
const (
	pktData       byte = 0x01
	pktConnect    byte = 0xF0
	pktAccept     byte = 0xF1
	pktDisconnect byte = 0xF2
	pktPing       byte = 0xF3
	pktAck        byte = 0xF4
)

const (
	flagReliable byte = 1 << 0

	dataHeaderLen = 5

	channelReliable    uint8 = 0
	channelUnsequenced uint8 = 1
	numChannels             = 2
)

// seqLess compares sequence numbers modulo 2^16.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

func encodeData(flags byte, channel uint8, seq uint16, payload []byte) []byte {
	pkt := make([]byte, dataHeaderLen+len(payload))
	pkt[0] = pktData
	pkt[1] = flags
	pkt[2] = channel
	binary.LittleEndian.PutUint16(pkt[3:5], seq)
	copy(pkt[dataHeaderLen:], payload)

	return pkt
}

func encodeAck(channel uint8, seq uint16) []byte {
	pkt := make([]byte, 4)
	pkt[0] = pktAck
	pkt[1] = channel
	binary.LittleEndian.PutUint16(pkt[2:4], seq)

	return pkt
}
