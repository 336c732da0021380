// Package packet implements the SSH binary packet protocol described
// by RFC 4253 section 6.
//
// Specifically we implement these operations:
//
// 1. serializing transport messages into cleartext or encrypted packets;
//
// 2. an incremental decoder that assembles packets from bytes arriving
// in arbitrary chunks;
//
// 3. the crypto records holding the negotiated ciphers, MACs and keys
// for each direction, including the current/next rotation at the
// NEWKEYS boundary.
package packet

import "errors"

var (
	// ErrPacketTooShort indicates that a packet length field is below
	// the protocol minimum.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrPacketTooLarge indicates that a packet length field exceeds
	// the maximum we are willing to process.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrBadPadding indicates an inconsistent padding length field.
	ErrBadPadding = errors.New("bad packet padding")

	// ErrBadMAC indicates that the integrity check of an encrypted
	// packet failed.
	ErrBadMAC = errors.New("packet MAC verification failed")

	// ErrUnsupportedAlgo indicates that a negotiated algorithm name
	// has no local implementation.
	ErrUnsupportedAlgo = errors.New("unsupported algorithm")
)

const (
	// maxPacketLength is the maximum value of the packet length field
	// we accept. RFC 4253 requires supporting a total packet size of
	// 35000 bytes.
	maxPacketLength = 35000

	// minPacketLength is the minimum value of the packet length field:
	// one byte of padding length plus four bytes of padding.
	minPacketLength = 5

	// minPaddingSize is the minimum amount of random padding.
	minPaddingSize = 4

	// minBlockSize is the padding alignment used in cleartext mode and
	// with ciphers whose block is smaller than eight bytes.
	minBlockSize = 8
)
