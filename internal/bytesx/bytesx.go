// Package bytesx provides functions operating on bytes.
//
// Specifically we implement these operations:
//
// 1. generating random bytes;
//
// 2. SSH wire-format encoding and decoding (uint32, string, mpint,
// name-list as defined by RFC 4251 section 5);
//
// 3. secure zeroization of secret material.
package bytesx

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"
)

var (
	// ErrEncode indicates a wire encoding error occurred.
	ErrEncode = errors.New("can't encode field")

	// ErrDecode indicates a wire decoding error occurred.
	ErrDecode = errors.New("can't decode field")
)

// GenRandomBytes returns an array of bytes with the given size using
// a CSRNG, on success, or an error, in case of failure.
func GenRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	return b, err
}

// ReadUint8 is a convenience function that reads a single byte from
// the given buffer, returning an error if the operation failed.
func ReadUint8(buf *bytes.Buffer) (uint8, error) {
	b, err := buf.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return b, nil
}

// WriteUint8 appends a single byte to the given buffer.
func WriteUint8(buf *bytes.Buffer, val uint8) {
	buf.WriteByte(val)
}

// ReadUint32 is a convenience function that reads a uint32 from a 4-byte
// buffer, returning an error if the operation failed.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	var numBuf [4]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return binary.BigEndian.Uint32(numBuf[:]), nil
}

// WriteUint32 is a convenience function that appends to the given buffer
// 4 bytes containing the big-endian representation of the given uint32 value.
func WriteUint32(buf *bytes.Buffer, val uint32) {
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], val)
	buf.Write(numBuf[:])
}

// ReadString reads a length-prefixed opaque byte sequence from the
// given buffer. Strings on the wire are a 32-bit big-endian length
// followed by that many raw bytes.
//
// This function returns ErrDecode on failure.
func ReadString(buf *bytes.Buffer) ([]byte, error) {
	length, err := ReadUint32(buf)
	if err != nil {
		return nil, err
	}
	if uint64(length) > uint64(buf.Len()) {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDecode, buf.Len(), length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(buf, data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return data, nil
}

// WriteString appends to the given buffer the length-prefixed
// representation of the given byte sequence.
//
// This function returns ErrEncode when the value is too large.
func WriteString(buf *bytes.Buffer, data []byte) error {
	if uint64(len(data)) > uint64(math.MaxUint32) {
		return fmt.Errorf("%w: %s", ErrEncode, "string too large")
	}
	WriteUint32(buf, uint32(len(data)))
	buf.Write(data)
	return nil
}

// ReadNameList reads a comma-separated list of names encoded as a
// wire string. An empty string yields an empty list.
func ReadNameList(buf *bytes.Buffer) ([]string, error) {
	raw, err := ReadString(buf)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []string{}, nil
	}
	return strings.Split(string(raw), ","), nil
}

// WriteNameList appends to the given buffer a comma-separated list of
// names encoded as a wire string.
func WriteNameList(buf *bytes.Buffer, names []string) error {
	return WriteString(buf, []byte(strings.Join(names, ",")))
}

// ReadBigInt reads a multiple-precision integer in two's complement
// wire format from the given buffer.
func ReadBigInt(buf *bytes.Buffer) (*big.Int, error) {
	raw, err := ReadString(buf)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		return nil, fmt.Errorf("%w: %s", ErrDecode, "negative mpint")
	}
	return new(big.Int).SetBytes(raw), nil
}

// WriteBigInt appends to the given buffer the wire representation of
// the given non-negative multiple-precision integer. A leading zero
// byte is inserted when the most significant bit would otherwise read
// as a sign bit.
func WriteBigInt(buf *bytes.Buffer, val *big.Int) error {
	if val.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrEncode, "negative mpint")
	}
	raw := val.Bytes()
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		raw = append([]byte{0x00}, raw...)
	}
	return WriteString(buf, raw)
}

// Burn overwrites the given byte sequence with zeros. Secret material
// must be burned before it is released on every path.
func Burn(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// BurnBigInt overwrites the internal representation of the given big
// integer with zeros and resets its value. Passing nil is allowed.
func BurnBigInt(v *big.Int) {
	if v == nil {
		return
	}
	words := v.Bits()
	for i := range words {
		words[i] = 0
	}
	v.SetInt64(0)
}
